package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/xmppctl/internal/admin"
	"github.com/danmuck/xmppctl/internal/client"
	"github.com/danmuck/xmppctl/internal/observability"
	"github.com/danmuck/xmppctl/internal/protocol/stanza"
	"github.com/danmuck/xmppctl/internal/transport"
	"github.com/danmuck/xmppctl/internal/transport/ws"
	"github.com/rs/zerolog/log"
)

const envConfigPath = "XMPPCTL_CONFIG"

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "xmppctl: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	defaultPath := os.Getenv(envConfigPath)
	if defaultPath == "" {
		defaultPath = "cmd/xmppctl/config.toml"
	}
	path := flag.String("config", defaultPath, "path to xmppctl config.toml")
	presence := flag.Bool("presence", true, "broadcast initial presence once the stream opens")
	flag.Parse()

	cfg, err := loadRuntimeConfig(*path)
	if err != nil {
		return err
	}
	observability.InitLogger("xmppctl", cfg.LogLevel)
	observability.RegisterMetrics()

	c, err := client.New(cfg.Client, ws.NewDialer())
	if err != nil {
		return err
	}
	defer c.Close()

	conn := c.Conn()
	conn.On(transport.EventStreamStarted, func(ev transport.Event) {
		log.Info().Str("stream_id", ev.Stream.ID).Str("from", ev.Stream.From).Msg("xmppctl stream started")
	})
	conn.On(transport.EventStanza, func(ev transport.Event) {
		from, _ := ev.Unit.Attr("from")
		log.Info().Str("kind", ev.Unit.Kind.String()).Str("id", ev.Unit.ID).Str("from", from).Msg("xmppctl stanza")
	})
	conn.On(transport.EventAcknowledged, func(ev transport.Event) {
		log.Debug().Str("id", ev.Unit.ID).Msg("xmppctl acknowledged")
	})
	if *presence {
		conn.OnElement("sm:enabled", func(transport.Event) { c.Send(stanza.NewPresence()) })
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if addr := strings.TrimSpace(cfg.AdminListen); addr != "" {
		srv := admin.New(c, admin.Options{CorsOrigins: cfg.CorsOrigins, Token: cfg.AdminToken})
		go func() {
			if err := srv.Serve(ctx, addr); err != nil {
				log.Error().Err(err).Str("addr", addr).Msg("xmppctl admin server")
				stop()
			}
		}()
	}

	log.Info().
		Str("address", cfg.Client.Session.Address).
		Str("server", cfg.Client.Session.Server).
		Int("window", cfg.Client.Session.WindowSize).
		Msg("xmppctl starting")
	return c.Run(ctx)
}
