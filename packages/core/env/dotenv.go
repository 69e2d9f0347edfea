package env

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"
)

// LoadDotEnv parses an env file and returns its key-value pairs.
// Nothing is exported to the process environment.
func LoadDotEnv(path string) (map[string]string, error) {
	vars, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("loading env file %s: %w", path, err)
	}
	return vars, nil
}

// Environ returns the process environment overlaid with extra, in the
// KEY=value form used by os/exec. Keys in extra win.
func Environ(extra map[string]string) []string {
	if len(extra) == 0 {
		return os.Environ()
	}

	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	environ := os.Environ()
	out := make([]string, 0, len(environ)+len(extra))
	for _, kv := range environ {
		if k, _, ok := strings.Cut(kv, "="); ok {
			if _, shadowed := extra[k]; shadowed {
				continue
			}
		}
		out = append(out, kv)
	}
	for _, k := range keys {
		out = append(out, k+"="+extra[k])
	}
	return out
}
