package session

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
)

// ResumePoint is what a later channel needs to resume a managed stream.
type ResumePoint struct {
	Server       string    `toml:"server"`
	ResumptionID string    `toml:"resumption_id"`
	Handled      uint32    `toml:"handled"`
	StashedAt    time.Time `toml:"stashed_at"`
}

// ResumeStash keeps resume points by server identity.
type ResumeStash struct {
	mu    sync.RWMutex
	items map[string]ResumePoint
}

func NewResumeStash() *ResumeStash {
	return &ResumeStash{
		items: make(map[string]ResumePoint),
	}
}

func (s *ResumeStash) Put(point ResumePoint) {
	key := strings.TrimSpace(point.Server)
	if key == "" || strings.TrimSpace(point.ResumptionID) == "" {
		return
	}
	if point.StashedAt.IsZero() {
		point.StashedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = point
}

func (s *ResumeStash) Get(server string) (ResumePoint, bool) {
	key := strings.TrimSpace(server)
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[key]
	return item, ok
}

func (s *ResumeStash) Remove(server string) {
	key := strings.TrimSpace(server)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
}

func (s *ResumeStash) List() []ResumePoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ResumePoint, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Server < out[j].Server
	})
	return out
}

type stashFile struct {
	Points []ResumePoint `toml:"point"`
}

// Save writes the stash to path so resumption survives a process restart.
func (s *ResumeStash) Save(path string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(stashFile{Points: s.List()}); err != nil {
		return fmt.Errorf("session: encode resume stash: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("session: write resume stash (%s): %w", path, err)
	}
	return nil
}

// LoadResumeStash reads a stash written by Save. A missing file yields an
// empty stash.
func LoadResumeStash(path string) (*ResumeStash, error) {
	out := NewResumeStash()
	var raw stashFile
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, fmt.Errorf("session: load resume stash (%s): %w", path, err)
	}
	for _, p := range raw.Points {
		out.Put(p)
	}
	return out, nil
}
