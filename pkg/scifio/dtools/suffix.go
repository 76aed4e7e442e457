package dtools

import "strings"

// CheckSuffix reports whether name ends in one of the given suffixes,
// ignoring case. Compound suffixes ("ome.tif") and leading dots in the
// suffix list are both accepted.
func CheckSuffix(name string, suffixes ...string) bool {
	lname := strings.ToLower(name)
	for _, suffix := range suffixes {
		s := strings.ToLower(strings.TrimPrefix(suffix, "."))
		if strings.HasSuffix(lname, "."+s) {
			return true
		}
	}
	return false
}
