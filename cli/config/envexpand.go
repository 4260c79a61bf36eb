// Package config handles fedrun.yaml loading.
package config

import (
	"os"
	"regexp"
)

// envVarPattern matches ${VAR} and ${VAR:-default}, and the escaped form
// $${...} which is kept literally (minus one '$').
var envVarPattern = regexp.MustCompile(`(\$?)\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnv replaces ${VAR} and ${VAR:-default} patterns in the input string
// with their environment values. $${VAR} yields a literal ${VAR}.
//
// Unset variables without defaults expand to empty string. Required values
// fail later in Validate.
func ExpandEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if groups[1] == "$" {
			return match[1:]
		}

		value, ok := os.LookupEnv(groups[2])
		if ok && value != "" {
			return value
		}
		return groups[3]
	})
}
