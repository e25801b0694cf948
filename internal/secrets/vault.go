// Package secrets holds the master-key vault and the codec that encrypts
// connection secrets at rest.
package secrets

import (
	"fmt"
	"strings"
	"sync"
)

// Loader retrieves secrets from a source (env vars, mounted files, ...).
type Loader func() (map[string]string, error)

// Vault holds secret values in memory and supports atomic reloading.
type Vault struct {
	mu     sync.RWMutex
	values map[string]string
	loader Loader
}

// NewVault creates a Vault, calling the loader once to populate initial values.
func NewVault(loader Loader) (*Vault, error) {
	vals, err := loader()
	if err != nil {
		return nil, fmt.Errorf("initial secret load: %w", err)
	}
	return &Vault{
		values: vals,
		loader: loader,
	}, nil
}

// StaticLoader returns a Loader that always yields a copy of vals.
func StaticLoader(vals map[string]string) Loader {
	return func() (map[string]string, error) {
		out := make(map[string]string, len(vals))
		for k, v := range vals {
			out[k] = v
		}
		return out, nil
	}
}

// Get returns the secret for key, or an empty string if not found.
func (v *Vault) Get(key string) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.values[key]
}

// Reload calls the loader and swaps in the new values atomically.
// If the loader returns an error, existing values are preserved.
func (v *Vault) Reload() error {
	newVals, err := v.loader()
	if err != nil {
		return fmt.Errorf("reload secrets: %w", err)
	}
	v.mu.Lock()
	v.values = newVals
	v.mu.Unlock()
	return nil
}

// Redacted returns a masked form of the secret: the first two characters
// followed by "****", or "****" for secrets of four characters or fewer.
// Missing keys yield "".
func (v *Vault) Redacted(key string) string {
	return mask(v.Get(key))
}

// RedactString replaces every vault value longer than four characters found
// in s with its masked form.
func (v *Vault) RedactString(s string) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, val := range v.values {
		if len(val) > 4 {
			s = strings.ReplaceAll(s, val, mask(val))
		}
	}
	return s
}

func mask(val string) string {
	switch {
	case val == "":
		return ""
	case len(val) <= 4:
		return "****"
	default:
		return val[:2] + "****"
	}
}
