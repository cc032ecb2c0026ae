package engine

import "sort"

// Batcher groups approved recipients by template so the email collaborator
// is invoked exactly once per non-empty template bucket. Recipients are
// deduplicated within a bucket.
type Batcher struct {
	buckets map[string][]string
	seen    map[string]map[string]struct{}
}

// NewBatcher creates an empty batcher.
func NewBatcher() *Batcher {
	return &Batcher{
		buckets: make(map[string][]string),
		seen:    make(map[string]map[string]struct{}),
	}
}

// Add queues email for the given template. Adding the same (template, email)
// pair twice is a no-op.
func (b *Batcher) Add(template, email string) {
	if _, ok := b.seen[template]; !ok {
		b.seen[template] = make(map[string]struct{})
	}
	if _, dup := b.seen[template][email]; dup {
		return
	}
	b.seen[template][email] = struct{}{}
	b.buckets[template] = append(b.buckets[template], email)
}

// Templates returns the non-empty bucket names in a stable order.
func (b *Batcher) Templates() []string {
	names := make([]string, 0, len(b.buckets))
	for name := range b.buckets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Recipients returns the bucket for a template in insertion order.
func (b *Batcher) Recipients(template string) []string {
	return b.buckets[template]
}
