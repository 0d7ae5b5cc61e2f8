// Package envutil builds child process environments from the ambient
// environment plus per-command overrides.
package envutil

import (
	"sort"
	"strings"
)

// Merge layers overrides on top of the ambient environment given in
// "KEY=VALUE" form. An override replaces an ambient entry with the same
// name; remaining overrides are appended in sorted order so the result is
// deterministic for a given input.
func Merge(ambient []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		merged := make([]string, len(ambient))
		copy(merged, ambient)
		return merged
	}

	pending := make(map[string]string, len(overrides))
	for k, v := range overrides {
		pending[k] = v
	}

	merged := make([]string, 0, len(ambient)+len(overrides))
	for _, entry := range ambient {
		name := entryName(entry)
		if v, ok := pending[name]; ok {
			merged = append(merged, name+"="+v)
			delete(pending, name)
			continue
		}
		merged = append(merged, entry)
	}

	rest := make([]string, 0, len(pending))
	for k := range pending {
		rest = append(rest, k)
	}
	sort.Strings(rest)
	for _, k := range rest {
		merged = append(merged, k+"="+pending[k])
	}

	return merged
}

// entryName returns the variable name of a "KEY=VALUE" entry. Entries
// without '=' are treated as a bare name.
func entryName(entry string) string {
	if i := strings.IndexByte(entry, '='); i >= 0 {
		return entry[:i]
	}
	return entry
}

// ValidName reports whether name can be used as an environment variable
// name in an execve environment block.
func ValidName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		if name[i] == '=' || name[i] == 0 {
			return false
		}
	}
	return true
}
