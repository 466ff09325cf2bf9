// ABOUTME: Checkpoint filters: tag, category and key-glob predicates combined as a conjunction
// ABOUTME: Key globs support only '*' and are compiled once into a single anchored regexp

package checkpoint

import (
	"regexp"
	"strings"

	"github.com/2389/coven-context/internal/session"
	"github.com/2389/coven-context/internal/store"
)

// Filter selects items for capture, restore or split. Empty fields impose no
// constraint; non-empty fields are ANDed together.
type Filter struct {
	IncludeTags       []string `json:"include_tags,omitempty"`
	ExcludeTags       []string `json:"exclude_tags,omitempty"`
	IncludeCategories []string `json:"include_categories,omitempty"`
	IncludeKeys       []string `json:"include_keys,omitempty"`
}

// IsZero reports whether the filter has no constraints
func (f Filter) IsZero() bool {
	return len(f.IncludeTags) == 0 && len(f.ExcludeTags) == 0 &&
		len(f.IncludeCategories) == 0 && len(f.IncludeKeys) == 0
}

// Matcher is a compiled Filter
type Matcher struct {
	includeTags map[string]bool
	excludeTags map[string]bool
	categories  map[store.Category]bool
	keys        *regexp.Regexp
}

// Compile validates f and prepares it for matching
func Compile(f Filter) (*Matcher, error) {
	m := &Matcher{
		includeTags: toSet(f.IncludeTags),
		excludeTags: toSet(f.ExcludeTags),
	}

	if len(f.IncludeCategories) > 0 {
		m.categories = make(map[store.Category]bool, len(f.IncludeCategories))
		for _, c := range f.IncludeCategories {
			cat := store.Category(c)
			if !cat.Valid() {
				return nil, &session.InvalidArgumentError{Field: "include_categories", Reason: "unknown category " + c}
			}
			m.categories[cat] = true
		}
	}

	if len(f.IncludeKeys) > 0 {
		alts := make([]string, 0, len(f.IncludeKeys))
		for _, pattern := range f.IncludeKeys {
			if pattern == "" {
				return nil, &session.InvalidArgumentError{Field: "include_keys", Reason: "empty pattern"}
			}
			alts = append(alts, globToRegexp(pattern))
		}
		re, err := regexp.Compile(`^(?:` + strings.Join(alts, "|") + `)$`)
		if err != nil {
			return nil, &session.InvalidArgumentError{Field: "include_keys", Reason: err.Error()}
		}
		m.keys = re
	}

	return m, nil
}

// globToRegexp escapes everything except '*', which matches any run of characters
func globToRegexp(glob string) string {
	parts := strings.Split(glob, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return strings.Join(parts, ".*")
}

// Match reports whether an item with these fields passes every constraint
func (m *Matcher) Match(key string, category store.Category, tags []string) bool {
	if m.categories != nil && !m.categories[category] {
		return false
	}
	if m.keys != nil && !m.keys.MatchString(key) {
		return false
	}
	if len(m.includeTags) > 0 && !intersects(tags, m.includeTags) {
		return false
	}
	if len(m.excludeTags) > 0 && intersects(tags, m.excludeTags) {
		return false
	}
	return true
}

// MatchItem matches a live context item
func (m *Matcher) MatchItem(it *store.ContextItem) bool {
	return m.Match(it.Key, it.Category, it.Tags)
}

// MatchFrozen matches a checkpoint item
func (m *Matcher) MatchFrozen(it *store.CheckpointItem) bool {
	return m.Match(it.Key, it.Category, it.Tags)
}

func toSet(values []string) map[string]bool {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

func intersects(tags []string, set map[string]bool) bool {
	for _, t := range tags {
		if set[t] {
			return true
		}
	}
	return false
}
