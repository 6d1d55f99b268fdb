package model

import "strings"

// ParsePersons splits a comma-joined persons field. Names are trimmed; empty
// and whitespace-only names are dropped, as are later duplicates.
func ParsePersons(s string) []string {
	var out []string
	seen := map[string]bool{}
	for _, part := range strings.Split(s, ",") {
		name := strings.TrimSpace(part)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

func JoinPersons(persons []string) string {
	return strings.Join(persons, ",")
}

// ValidPerson reports whether name can become a roster entry.
func ValidPerson(name string) bool {
	return strings.TrimSpace(name) != ""
}
