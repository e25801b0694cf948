package secrets

import (
	"fmt"
	"os"
	"strings"
)

// EnvLoader returns a Loader that reads the given environment variables.
// When KEY is unset but KEY_FILE names a file, the trimmed file content is
// used instead (container secret mounts). Missing variables are omitted.
func EnvLoader(keys ...string) Loader {
	return func() (map[string]string, error) {
		vals := make(map[string]string, len(keys))
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				vals[k] = v
				continue
			}
			path := os.Getenv(k + "_FILE")
			if path == "" {
				continue
			}
			data, err := os.ReadFile(path) //nolint:gosec // path comes from operator configuration
			if err != nil {
				return nil, fmt.Errorf("read %s_FILE: %w", k, err)
			}
			if v := strings.TrimSpace(string(data)); v != "" {
				vals[k] = v
			}
		}
		return vals, nil
	}
}
