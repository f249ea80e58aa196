package access

import "strings"

// Entry binds a page file name to its permission mask.
type Entry struct {
	Page  string `yaml:"page" json:"page"`
	Level Level  `yaml:"level" json:"level"`
}

// Table is an ordered permission list. Duplicates are allowed and the first
// one wins.
type Table []Entry

// Lookup returns the level of the first entry for page.
func (t Table) Lookup(page string) (Level, bool) {
	for _, e := range t {
		if e.Page == page {
			return e.Level, true
		}
	}
	return 0, false
}

// Concat returns t followed by the other tables in a fresh slice.
func (t Table) Concat(others ...Table) Table {
	n := len(t)
	for _, o := range others {
		n += len(o)
	}
	out := make(Table, 0, n)
	out = append(out, t...)
	for _, o := range others {
		out = append(out, o...)
	}
	return out
}

// Without drops every entry whose page contains any of the substrings.
func (t Table) Without(substrs ...string) Table {
	out := make(Table, 0, len(t))
	for _, e := range t {
		if containsAny(e.Page, substrs) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func containsAny(s string, substrs []string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
