// Package keys builds composite storage keys. Containers are a pure prefixing
// convention: Clear and partial Delete are prefix scans over these strings.
package keys

import "strings"

const (
	DefaultContainer = "default"

	lead = "!!"
	sep  = "|"
)

// Make returns "!!" + container + "|" + key. An empty container is "default".
func Make(container, key string) string {
	if container == "" {
		container = DefaultContainer
	}
	var b strings.Builder
	b.Grow(len(lead) + len(container) + len(sep) + len(key))
	b.WriteString(lead)
	b.WriteString(container)
	b.WriteString(sep)
	b.WriteString(key)
	return b.String()
}

// ContainerPrefix returns the prefix shared by every key of container.
func ContainerPrefix(container string) string {
	return Make(container, "")
}

// Split reverses Make. ok is false for strings not produced by Make.
func Split(storageKey string) (container, key string, ok bool) {
	if !strings.HasPrefix(storageKey, lead) {
		return "", "", false
	}
	rest := storageKey[len(lead):]
	i := strings.Index(rest, sep)
	if i < 0 {
		return "", "", false
	}
	return rest[:i], rest[i+len(sep):], true
}
