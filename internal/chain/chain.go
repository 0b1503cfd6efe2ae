// Package chain implements the Temporal Chain Manager (spec.md §4.5):
// supersession chain maintenance/traversal and valid-time filtering.
//
// Grounded on the teacher's supersedes_id / evolution-chain fields
// (pkg/types/memory.go, storage.MemoryStore.GetEvolutionChain), generalized
// from the teacher's unbounded soft-delete version history into the spec's
// strict single-current-engram invariant.
package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/scrypster/engramind/internal/store"
	"github.com/scrypster/engramind/pkg/engram"
)

// Manager maintains and traverses supersession chains.
type Manager struct {
	store store.EngramStore
}

// New constructs a Manager over store.
func New(s store.EngramStore) *Manager {
	return &Manager{store: s}
}

// Supersede atomically marks oldID superseded and links newID to it as the
// successor. Fails if oldID is already superseded, either id is missing, or
// the resulting chain would contain a cycle.
func (m *Manager) Supersede(ctx context.Context, oldID, newID int64, typ engram.SupersessionType) error {
	if oldID == newID {
		return fmt.Errorf("%w: an engram cannot supersede itself", engram.ErrCycle)
	}

	if _, err := m.store.Get(ctx, oldID); err != nil {
		return err
	}
	if _, err := m.store.Get(ctx, newID); err != nil {
		return err
	}

	if err := m.detectCycle(ctx, oldID, newID); err != nil {
		return err
	}

	now := time.Now().UTC()
	if err := m.store.MarkSuperseded(ctx, oldID, now); err != nil {
		return err
	}
	if err := m.store.SetSupersedes(ctx, newID, oldID, typ); err != nil {
		return err
	}
	return nil
}

// detectCycle walks the chain of predecessors starting at oldID; if newID
// already appears among oldID's ancestors, linking newID -> oldID would
// close a cycle.
func (m *Manager) detectCycle(ctx context.Context, oldID, newID int64) error {
	visited := map[int64]bool{}
	cur := oldID
	for {
		if cur == newID {
			return fmt.Errorf("%w: %d already appears in %d's ancestor chain", engram.ErrCycle, newID, oldID)
		}
		if visited[cur] {
			return fmt.Errorf("%w: existing chain already cyclic at id=%d", engram.ErrCycle, cur)
		}
		visited[cur] = true

		e, err := m.store.Get(ctx, cur)
		if err != nil {
			return err
		}
		if e.SupersedesID == nil {
			return nil
		}
		cur = *e.SupersedesID
	}
}

// GetChain returns the full chain from original (no predecessor) to current
// (no successor), irrespective of which id in the chain was supplied.
func (m *Manager) GetChain(ctx context.Context, id int64) ([]*engram.Engram, error) {
	original, err := m.GetOriginal(ctx, id)
	if err != nil {
		return nil, err
	}

	chain := []*engram.Engram{original}
	visited := map[int64]bool{original.ID: true}
	cur := original
	for {
		successor, err := m.findSuccessor(ctx, cur.ID)
		if err != nil {
			return nil, err
		}
		if successor == nil {
			break
		}
		if visited[successor.ID] {
			return nil, fmt.Errorf("%w: cycle detected while walking forward from id=%d", engram.ErrCycle, cur.ID)
		}
		visited[successor.ID] = true
		chain = append(chain, successor)
		cur = successor
	}
	return chain, nil
}

// findSuccessor returns the engram whose supersedes_id equals id, if any.
// There must be at most one live successor per the single-active-chain
// invariant. The store interface has no lookup by supersedes_id, so this
// pages through every engram, history included, until a match is found.
func (m *Manager) findSuccessor(ctx context.Context, id int64) (*engram.Engram, error) {
	opts := store.ListOptions{
		Limit:  1000,
		Filter: store.Filter{IncludeHistory: true},
	}
	for {
		page, err := m.store.List(ctx, opts)
		if err != nil {
			return nil, err
		}
		for _, e := range page.Engrams {
			if e.SupersedesID != nil && *e.SupersedesID == id {
				return e, nil
			}
		}
		if !page.HasMore {
			return nil, nil
		}
		opts.Cursor = page.NextCursor
	}
}

// GetCurrent returns the chain member with no successor.
func (m *Manager) GetCurrent(ctx context.Context, id int64) (*engram.Engram, error) {
	chainList, err := m.GetChain(ctx, id)
	if err != nil {
		return nil, err
	}
	return chainList[len(chainList)-1], nil
}

// GetOriginal returns the chain member with no predecessor.
func (m *Manager) GetOriginal(ctx context.Context, id int64) (*engram.Engram, error) {
	cur, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	visited := map[int64]bool{cur.ID: true}
	for cur.SupersedesID != nil {
		next, err := m.store.Get(ctx, *cur.SupersedesID)
		if err != nil {
			return nil, err
		}
		if visited[next.ID] {
			return nil, fmt.Errorf("%w: cycle detected while walking back from id=%d", engram.ErrCycle, cur.ID)
		}
		visited[next.ID] = true
		cur = next
	}
	return cur, nil
}

// ChainLength returns the number of engrams in id's supersession chain.
func (m *Manager) ChainLength(ctx context.Context, id int64) (int, error) {
	chainList, err := m.GetChain(ctx, id)
	if err != nil {
		return 0, err
	}
	return len(chainList), nil
}

// FilterByValidity keeps only engrams whose valid-time window contains T,
// where T = validAt if non-nil, else now. spec.md §4.5 additionally allows
// an as_of parameter; callers that want as-of semantics simply pass that
// timestamp as validAt, since both resolve to the same ValidAt check.
func FilterByValidity(engrams []*engram.Engram, validAt *time.Time, now time.Time) []*engram.Engram {
	t := now
	if validAt != nil {
		t = *validAt
	}
	out := make([]*engram.Engram, 0, len(engrams))
	for _, e := range engrams {
		if e.ValidAt(t) {
			out = append(out, e)
		}
	}
	return out
}
