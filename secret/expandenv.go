package secret

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

var bracedVar = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnvStrict expands $VAR and ${VAR} from the environment. A braced
// variable that is not set is an error listing every missing name; a bare
// $VAR expands to "" as with os.ExpandEnv. "$$" yields a literal "$".
func ExpandEnvStrict(s string) (string, error) {
	const dollar = "\x00querycache-dollar\x00"
	s = strings.ReplaceAll(s, "$$", dollar)

	var missing []string
	seen := map[string]bool{}
	for _, m := range bracedVar.FindAllStringSubmatch(s, -1) {
		name := m[1]
		if _, ok := os.LookupEnv(name); !ok && !seen[name] {
			seen[name] = true
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return strings.ReplaceAll(os.ExpandEnv(s), dollar, "$"), nil
}
