package graph

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Syntactic limits for identifiers. These are policy, not structure: the
// important property is that the same rules apply to direct writes and to
// merge-replayed writes, which is guaranteed by both paths funneling
// through the applier primitives.
const (
	maxNodeIDLen   = 200
	maxRelLen      = 64
	maxNodeTypeLen = 64
	maxScopeLen    = 120
	maxTagLen      = 80
)

var (
	nodeIDPattern   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:/#-]*$`)
	relPattern      = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	nodeTypePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	scopePattern    = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._/-]*$`)
)

// ValidateNodeID checks a node identifier: non-empty, bounded length,
// starts alphanumeric, then alphanumerics plus . _ : / # -.
func ValidateNodeID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: node id is empty", ErrInvalidInput)
	}
	if len(id) > maxNodeIDLen {
		return fmt.Errorf("%w: node id longer than %d chars", ErrInvalidInput, maxNodeIDLen)
	}
	if !nodeIDPattern.MatchString(id) {
		return fmt.Errorf("%w: node id %q has invalid characters", ErrInvalidInput, id)
	}
	return nil
}

// ValidateRel checks an edge relation name: lower_snake_case.
func ValidateRel(rel string) error {
	if rel == "" {
		return fmt.Errorf("%w: relation is empty", ErrInvalidInput)
	}
	if len(rel) > maxRelLen {
		return fmt.Errorf("%w: relation longer than %d chars", ErrInvalidInput, maxRelLen)
	}
	if !relPattern.MatchString(rel) {
		return fmt.Errorf("%w: relation %q must be lower_snake_case", ErrInvalidInput, rel)
	}
	return nil
}

// ValidateNodeType checks a node type name: lower_snake_case.
func ValidateNodeType(t string) error {
	if t == "" {
		return fmt.Errorf("%w: node type is empty", ErrInvalidInput)
	}
	if len(t) > maxNodeTypeLen {
		return fmt.Errorf("%w: node type longer than %d chars", ErrInvalidInput, maxNodeTypeLen)
	}
	if !nodeTypePattern.MatchString(t) {
		return fmt.Errorf("%w: node type %q must be lower_snake_case", ErrInvalidInput, t)
	}
	return nil
}

// validateScopeName checks workspace, branch, and document names. The
// label names the field in error messages.
func validateScopeName(label, v string) error {
	if v == "" {
		return fmt.Errorf("%w: %s is empty", ErrInvalidInput, label)
	}
	if len(v) > maxScopeLen {
		return fmt.Errorf("%w: %s longer than %d chars", ErrInvalidInput, label, maxScopeLen)
	}
	if !scopePattern.MatchString(v) {
		return fmt.Errorf("%w: %s %q has invalid characters", ErrInvalidInput, label, v)
	}
	return nil
}

// NormalizeTags trims and de-duplicates tags case-insensitively (the first
// casing wins) and returns them in canonical sorted order, so tag equality
// is order-insensitive everywhere. An entry that is empty after trimming
// is rejected.
func NormalizeTags(tags []string) ([]string, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, raw := range tags {
		tag := strings.TrimSpace(raw)
		if tag == "" {
			return nil, fmt.Errorf("%w: tag is empty after trimming", ErrInvalidInput)
		}
		if len(tag) > maxTagLen {
			return nil, fmt.Errorf("%w: tag %q longer than %d chars", ErrInvalidInput, tag, maxTagLen)
		}
		key := strings.ToLower(tag)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, tag)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i]) < strings.ToLower(out[j])
	})
	return out, nil
}

// tagSetEqual compares two tag lists as case-insensitive sets.
func tagSetEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[strings.ToLower(t)] = true
	}
	for _, t := range b {
		if !set[strings.ToLower(t)] {
			return false
		}
	}
	return true
}
