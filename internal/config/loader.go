package config

import (
	"fmt"
	"os"
	"sync"
)

// Loader holds the current config and supports reloading from the same
// file. Get is safe to call from any goroutine.
type Loader struct {
	mu   sync.RWMutex
	path string
	cfg  *Config
}

// NewLoader creates a Loader holding the default config until Load is
// called.
func NewLoader() *Loader {
	return &Loader{cfg: DefaultConfig()}
}

// Load reads and parses the config file at path, replacing the current
// config on success. The previous config is kept on failure.
func (l *Loader) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg, err := parse(data)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.path = path
	l.cfg = cfg
	l.mu.Unlock()
	return nil
}

// Reload re-reads the file given to the last successful Load.
func (l *Loader) Reload() error {
	l.mu.RLock()
	path := l.path
	l.mu.RUnlock()

	if path == "" {
		return fmt.Errorf("no config file loaded")
	}
	return l.Load(path)
}

// Get returns the current config.
func (l *Loader) Get() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}
