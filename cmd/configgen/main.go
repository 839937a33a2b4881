package main

import (
	"flag"
	"log"

	"github.com/danmuck/xmppctl/internal/config"
)

func main() {
	kind := flag.String("kind", "client", "config kind: client")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation (defaults to cmd/xmppctl/config.toml)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *kind != "client" {
		log.Fatalf("unknown kind: %s", *kind)
	}

	if *validate {
		path := *input
		if path == "" {
			path = "cmd/xmppctl/config.toml"
		}
		if _, err := config.LoadClientConfig(path); err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated %s config at %s", *kind, path)
		return
	}

	target := *output
	if target == "" {
		target = "cmd/xmppctl/config.toml"
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, target)
}
