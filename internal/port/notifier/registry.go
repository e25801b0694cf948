package notifier

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// Factory builds a Notifier from its channel settings, e.g. "webhook_url".
// It returns ErrNotConfigured when the settings leave the channel off.
type Factory func(settings map[string]string) (Notifier, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register adds an alert channel. Adapters call it from init(); registering
// a name twice panics.
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := factories[name]; dup {
		panic(fmt.Sprintf("notifier: %q registered twice", name))
	}
	factories[name] = factory
}

// New builds the channel registered as name.
func New(name string, settings map[string]string) (Notifier, error) {
	mu.RLock()
	factory, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("notifier: unknown channel %q", name)
	}
	return factory(settings)
}

// Configured builds a notifier for every channel in settings, in name order.
// Channels that report ErrNotConfigured are left out, so an empty webhook
// URL simply disables its channel.
func Configured(settings map[string]map[string]string) ([]Notifier, error) {
	names := make([]string, 0, len(settings))
	for name := range settings {
		names = append(names, name)
	}
	slices.Sort(names)

	var out []Notifier
	for _, name := range names {
		n, err := New(name, settings[name])
		if errors.Is(err, ErrNotConfigured) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out = append(out, n)
	}
	return out, nil
}
