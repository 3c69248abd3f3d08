package dispatch

import (
	"fmt"
	"os"
	"regexp"
)

var templateVar = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// substitute replaces every ${name} in s with the matching call argument, or
// the environment variable of the same name if no argument matches, per the
// http/command routing variants' templating rule. An unresolved placeholder
// is left untouched rather than erroring, so literal "${...}" text in a
// routing config that happens to not be a template still passes through.
func substitute(s string, args map[string]any) string {
	return templateVar.ReplaceAllStringFunc(s, func(match string) string {
		name := templateVar.FindStringSubmatch(match)[1]
		if v, ok := args[name]; ok {
			return fmt.Sprintf("%v", v)
		}
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return match
	})
}
