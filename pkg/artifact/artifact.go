// Package artifact models the set of build outputs handed to the publisher.
package artifact

// Artifact is one named, in-memory build output. Content must not be
// modified once the artifact has been added to a Set.
type Artifact struct {
	Path    string
	Content []byte
}

// Size returns the content length in bytes.
func (a *Artifact) Size() int64 {
	return int64(len(a.Content))
}

// Set is a collection of artifacts keyed by logical path. Iteration order
// is insertion order.
type Set struct {
	order []string
	items map[string]*Artifact
}

// NewSet creates an empty artifact set.
func NewSet() *Set {
	return &Set{
		items: make(map[string]*Artifact, 16),
	}
}

// Add stores content under path. Adding an existing path replaces its
// content but keeps its original position. Artifacts handed out earlier
// are left untouched.
func (s *Set) Add(path string, content []byte) {
	if _, ok := s.items[path]; !ok {
		s.order = append(s.order, path)
	}

	s.items[path] = &Artifact{Path: path, Content: content}
}

// Get returns the artifact stored under path.
func (s *Set) Get(path string) (*Artifact, bool) {
	a, ok := s.items[path]

	return a, ok
}

// Remove deletes the artifact stored under path and reports whether it
// was present.
func (s *Set) Remove(path string) bool {
	if _, ok := s.items[path]; !ok {
		return false
	}

	delete(s.items, path)

	for i, p := range s.order {
		if p == path {
			s.order = append(s.order[:i], s.order[i+1:]...)

			break
		}
	}

	return true
}

// Len returns the number of artifacts in the set.
func (s *Set) Len() int {
	return len(s.order)
}

// Paths returns the logical paths in insertion order.
func (s *Set) Paths() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)

	return out
}

// Artifacts returns the artifacts in insertion order.
func (s *Set) Artifacts() []*Artifact {
	out := make([]*Artifact, 0, len(s.order))
	for _, p := range s.order {
		out = append(out, s.items[p])
	}

	return out
}

// TotalSize returns the combined content size of all artifacts.
func (s *Set) TotalSize() int64 {
	var total int64
	for _, a := range s.items {
		total += a.Size()
	}

	return total
}
