package patch

import "sync"

// Set is the engine's ordered patch list. Patches from the same owner with
// an identical find set are merged into one entry.
type Set struct {
	mu      sync.RWMutex
	patches []*Patch
	index   map[string]*Patch
}

// NewSet creates an empty set.
func NewSet() *Set {
	return &Set{index: make(map[string]*Patch)}
}

// Add appends p, or appends its replacements to an existing patch of the
// same owner and find set. It reports whether a merge happened.
func (s *Set) Add(p Patch) bool {
	key := p.Owner + "\x01" + findKey(p.Find)

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.index[key]; ok {
		existing.Replacements = append(existing.Replacements, p.Replacements...)
		return true
	}
	cp := p
	cp.Find = append([]Matcher(nil), p.Find...)
	cp.Replacements = append([]Replacement(nil), p.Replacements...)
	s.patches = append(s.patches, &cp)
	s.index[key] = &cp
	return false
}

// Snapshot returns copies of the patches in registration order.
func (s *Set) Snapshot() []Patch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Patch, len(s.patches))
	for i, p := range s.patches {
		out[i] = Patch{
			Find:         append([]Matcher(nil), p.Find...),
			Replacements: append([]Replacement(nil), p.Replacements...),
			Owner:        p.Owner,
		}
	}
	return out
}

// Matching returns the patches whose find condition holds for source.
func (s *Set) Matching(source string) []Patch {
	var out []Patch
	for _, p := range s.Snapshot() {
		if Matches(source, p) {
			out = append(out, p)
		}
	}
	return out
}

// Len returns the number of distinct patches.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.patches)
}
