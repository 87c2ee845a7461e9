package launch

import (
	"regexp"
	"sort"
)

// =============================================================================
// Variable Substitution Functions
// =============================================================================

// varPlaceholderRegex matches ${VAR} and ${VAR:-default} patterns.
var varPlaceholderRegex = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// SubstituteVariables replaces ${VAR} and ${VAR:-default} placeholders
// with values from the variables map.
//
// Behavior:
//   - ${VAR} - replaced with variables["VAR"] if set, otherwise kept as-is
//   - ${VAR:-default} - replaced with variables["VAR"] if set, otherwise "default"
//   - Unmatched text is left unchanged
func SubstituteVariables(value string, variables map[string]string) string {
	if variables == nil {
		variables = make(map[string]string)
	}

	return varPlaceholderRegex.ReplaceAllStringFunc(value, func(match string) string {
		submatch := varPlaceholderRegex.FindStringSubmatch(match)
		if len(submatch) >= 2 {
			varName := submatch[1]
			if val, ok := variables[varName]; ok {
				return val
			}
			// ${VAR:-default} falls back to the default, even when empty.
			if hasDefaultRegex(varName).MatchString(match) {
				return submatch[2]
			}
		}
		return match
	})
}

// hasDefaultRegex matches ${VAR:-...} for a specific variable name.
func hasDefaultRegex(varName string) *regexp.Regexp {
	return regexp.MustCompile(`\$\{` + regexp.QuoteMeta(varName) + `:-[^}]*\}`)
}

// RenderEnvironment applies variable substitution to every value of a
// service environment, returning a new map.
func RenderEnvironment(env, variables map[string]string) map[string]string {
	rendered := make(map[string]string, len(env))
	for k, v := range env {
		rendered[k] = SubstituteVariables(v, variables)
	}
	return rendered
}

// ExtractVariables returns the unique placeholder names used across a
// set of environment maps, sorted for stable output.
func ExtractVariables(envs ...map[string]string) []string {
	seen := make(map[string]bool)
	var vars []string

	for _, env := range envs {
		for _, val := range env {
			for _, match := range varPlaceholderRegex.FindAllStringSubmatch(val, -1) {
				if len(match) >= 2 && !seen[match[1]] {
					seen[match[1]] = true
					vars = append(vars, match[1])
				}
			}
		}
	}

	sort.Strings(vars)
	return vars
}
