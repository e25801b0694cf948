package config

import (
	"fmt"
	"sync/atomic"
)

// Holder keeps the active Config and swaps it atomically on Reload.
type Holder struct {
	cur  atomic.Pointer[Config]
	path string
}

// NewHolder wraps cfg, remembering the YAML path for reloads.
func NewHolder(cfg *Config, yamlPath string) *Holder {
	h := &Holder{path: yamlPath}
	h.cur.Store(cfg)
	return h
}

// Get returns the active config. Callers must not mutate it.
func (h *Holder) Get() *Config {
	return h.cur.Load()
}

// Reload re-reads defaults < YAML < ENV. On error the previous config stays
// active.
func (h *Holder) Reload() error {
	cfg, err := LoadFrom(h.path)
	if err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	h.cur.Store(cfg)
	return nil
}
