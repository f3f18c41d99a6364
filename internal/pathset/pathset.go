// Package pathset implements a prefix-closed set of key paths: tracking
// which subtrees of a nested metadata mapping a caller has asked about.
package pathset

// Path is an ordered sequence of string segments identifying a position
// inside nested mappings. An empty (zero-length) Path denotes the root.
type Path []string

// Equal reports whether p and other name the same segments in the same
// order.
func (p Path) Equal(other Path) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// startsWith reports whether p has prefix as its prefix (prefix == p counts).
func startsWith(p, prefix Path) bool {
	if len(prefix) > len(p) {
		return false
	}
	for i := range prefix {
		if p[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Set is a prefix-closed collection of Paths: no member is ever a proper
// prefix of another member. Adding a path that is already covered by an
// existing member is a no-op; adding a path that is a prefix of existing
// members replaces them.
type Set struct {
	paths []Path
}

// New returns an empty Set.
func New() *Set {
	return &Set{}
}

// Add inserts newPath, maintaining the prefix-closure invariant. It reports
// whether the set actually changed (false if newPath was already covered).
func (s *Set) Add(newPath Path) bool {
	if s.Covers(newPath) {
		return false
	}
	kept := s.paths[:0]
	for _, existing := range s.paths {
		if !startsWith(existing, newPath) {
			kept = append(kept, existing)
		}
	}
	kept = append(kept, cloneP(newPath))
	s.paths = kept
	return true
}

// Covers reports whether some member of s is a prefix of candidate
// (including candidate itself).
func (s *Set) Covers(candidate Path) bool {
	for _, existing := range s.paths {
		if startsWith(candidate, existing) {
			return true
		}
	}
	return false
}

// Paths returns the current members of the set. The caller must not mutate
// the returned slice or its elements.
func (s *Set) Paths() []Path {
	return s.paths
}

// Len returns the number of members currently in the set.
func (s *Set) Len() int {
	return len(s.paths)
}

func cloneP(p Path) Path {
	out := make(Path, len(p))
	copy(out, p)
	return out
}
