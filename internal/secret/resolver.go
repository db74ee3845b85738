// Package secret resolves secret references embedded in environment-variable
// values. A reference has the shape #{SECRET[config_id][key]}; everything
// else is treated as a literal value.
package secret

import (
	"fmt"
	"regexp"
)

var refPattern = regexp.MustCompile(`^#\{SECRET\[([^\[\]]+)\]\[([^\[\]]+)\]\}$`)

// Ref identifies a single secret inside a named secret config.
type Ref struct {
	ConfigID string
	Key      string
}

func (r Ref) String() string {
	return fmt.Sprintf("#{SECRET[%s][%s]}", r.ConfigID, r.Key)
}

// ParseRef reports whether value is a secret reference and, if so, returns it
// decomposed.
func ParseRef(value string) (Ref, bool) {
	m := refPattern.FindStringSubmatch(value)
	if m == nil {
		return Ref{}, false
	}
	return Ref{ConfigID: m[1], Key: m[2]}, true
}

// Resolver turns a secret reference into its value. The dispatch core is
// agnostic to the resolution mechanism behind it.
type Resolver func(ref Ref) (string, error)

// StaticResolver resolves from an in-memory map keyed by "config_id/key".
// Used in tests and for file-backed secret stores loaded at startup.
func StaticResolver(values map[string]string) Resolver {
	return func(ref Ref) (string, error) {
		v, ok := values[ref.ConfigID+"/"+ref.Key]
		if !ok {
			return "", fmt.Errorf("secret %s not found", ref)
		}
		return v, nil
	}
}
