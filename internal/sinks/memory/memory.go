// Package memory provides in-memory sink implementations for development and
// tests.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/keyword-volume-pipeline/internal/keywords"
)

// Store keeps enriched items and checkpoints in memory.
type Store struct {
	mu          sync.Mutex
	items       []keywords.EnrichedItem
	checkpoints []keywords.Checkpoint
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{}
}

// Save appends the items.
func (s *Store) Save(_ context.Context, items []keywords.EnrichedItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, items...)
	return nil
}

// SaveCheckpoint appends the checkpoint.
func (s *Store) SaveCheckpoint(_ context.Context, cp keywords.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints = append(s.checkpoints, cp)
	return nil
}

// Items returns a copy of everything saved so far.
func (s *Store) Items() []keywords.EnrichedItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]keywords.EnrichedItem, len(s.items))
	copy(out, s.items)
	return out
}

// Checkpoints returns a copy of every checkpoint saved so far.
func (s *Store) Checkpoints() []keywords.Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]keywords.Checkpoint, len(s.checkpoints))
	copy(out, s.checkpoints)
	return out
}

// Submitter records submitted item slices in memory.
type Submitter struct {
	mu      sync.Mutex
	batches [][]keywords.EnrichedItem
}

// NewSubmitter returns an empty Submitter.
func NewSubmitter() *Submitter {
	return &Submitter{}
}

// Submit records one submitted batch.
func (s *Submitter) Submit(_ context.Context, items []keywords.EnrichedItem) error {
	batch := make([]keywords.EnrichedItem, len(items))
	copy(batch, items)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, batch)
	return nil
}

// Batches returns every submitted batch in order.
func (s *Submitter) Batches() [][]keywords.EnrichedItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]keywords.EnrichedItem, len(s.batches))
	copy(out, s.batches)
	return out
}

// Committer records commit labels, no-opping when the label is unchanged
// since the previous commit.
type Committer struct {
	mu     sync.Mutex
	labels []string
}

// NewCommitter returns an empty Committer.
func NewCommitter() *Committer {
	return &Committer{}
}

// Commit records the label unless it matches the most recent commit.
func (c *Committer) Commit(_ context.Context, label string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := len(c.labels); n > 0 && c.labels[n-1] == label {
		return false, nil
	}
	c.labels = append(c.labels, label)
	return true, nil
}

// Labels returns every committed label in order.
func (c *Committer) Labels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.labels))
	copy(out, c.labels)
	return out
}
