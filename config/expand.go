package config

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

var bracedVar = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandStrict expands $VAR and ${VAR} in s using lookup. A ${VAR} that
// lookup does not know is an error; an unknown bare $VAR expands to "".
// "$$" produces a literal "$".
func expandStrict(s string, lookup func(string) (string, bool)) (string, error) {
	const dollar = "\x00FETCHCACHE_DOLLAR\x00"
	s = strings.ReplaceAll(s, "$$", dollar)

	var missing []string
	seen := make(map[string]struct{})
	for _, m := range bracedVar.FindAllStringSubmatch(s, -1) {
		name := m[1]
		if _, ok := lookup(name); ok {
			continue
		}
		if _, dup := seen[name]; !dup {
			seen[name] = struct{}{}
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", fmt.Errorf("%w: undefined environment variables: %s", ErrInvalidConfig, strings.Join(missing, ", "))
	}

	s = os.Expand(s, func(name string) string {
		v, _ := lookup(name)
		return v
	})
	return strings.ReplaceAll(s, dollar, "$"), nil
}

func lookupIn(environ map[string]string) func(string) (string, bool) {
	if environ == nil {
		return os.LookupEnv
	}
	return func(name string) (string, bool) {
		v, ok := environ[name]
		return v, ok
	}
}
