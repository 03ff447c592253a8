package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/ahrav/flawtracker/internal/domain/flaw"
	"github.com/ahrav/flawtracker/pkg/common/uuid"
)

var _ flaw.Repository = (*FlawStore)(nil)

// FlawStore provides an in-memory implementation of flaw.Repository for
// testing and development. Transactions are serialized and rolled back by
// undoing their writes.
type FlawStore struct {
	txMu sync.Mutex

	mu    sync.RWMutex
	flaws map[uuid.UUID]*flaw.Flaw
}

// NewFlawStore creates an empty in-memory flaw store.
func NewFlawStore() *FlawStore {
	return &FlawStore{flaws: make(map[uuid.UUID]*flaw.Flaw)}
}

func (s *FlawStore) CreateFlaw(ctx context.Context, f *flaw.Flaw) error {
	_, err := s.create(f)
	return err
}

func (s *FlawStore) create(f *flaw.Flaw) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.flaws[f.ID()]; exists {
		return nil, fmt.Errorf("flaw %s already exists", f.ID())
	}
	if err := s.checkCVELocked(f); err != nil {
		return nil, err
	}

	s.flaws[f.ID()] = f.Clone()
	id := f.ID()
	return func() { delete(s.flaws, id) }, nil
}

func (s *FlawStore) checkCVELocked(f *flaw.Flaw) error {
	if f.CVEID == "" {
		return nil
	}
	for id, other := range s.flaws {
		if id != f.ID() && other.CVEID == f.CVEID {
			return fmt.Errorf("%w: %s", flaw.ErrDuplicateCVE, f.CVEID)
		}
	}
	return nil
}

func (s *FlawStore) GetFlaw(ctx context.Context, id uuid.UUID) (*flaw.Flaw, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.flaws[id]
	if !ok {
		return nil, flaw.ErrFlawNotFound
	}
	return f.Clone(), nil
}

// GetFlawForUpdate is GetFlaw; transactions already run one at a time.
func (s *FlawStore) GetFlawForUpdate(ctx context.Context, id uuid.UUID) (*flaw.Flaw, error) {
	return s.GetFlaw(ctx, id)
}

func (s *FlawStore) FindByCVE(ctx context.Context, cveID string) (*flaw.Flaw, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, f := range s.flaws {
		if f.CVEID == cveID {
			return f.Clone(), nil
		}
	}
	return nil, flaw.ErrFlawNotFound
}

func (s *FlawStore) ListFlaws(ctx context.Context, opts flaw.ListOptions) ([]*flaw.Flaw, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*flaw.Flaw, 0, len(s.flaws))
	for _, f := range s.flaws {
		if opts.WorkflowState != "" && f.WorkflowState != opts.WorkflowState {
			continue
		}
		if opts.Embargoed != nil && f.Embargoed != *opts.Embargoed {
			continue
		}
		out = append(out, f.Clone())
	}

	slices.SortFunc(out, func(a, b *flaw.Flaw) int {
		if c := b.CreatedAt().Compare(a.CreatedAt()); c != 0 {
			return c
		}
		return strings.Compare(a.ID().String(), b.ID().String())
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return []*flaw.Flaw{}, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *FlawStore) UpdateFlaw(ctx context.Context, f *flaw.Flaw, expectedState flaw.WorkflowState) (flaw.WorkflowState, error) {
	state, _, err := s.update(f, expectedState)
	return state, err
}

func (s *FlawStore) update(f *flaw.Flaw, expectedState flaw.WorkflowState) (flaw.WorkflowState, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.flaws[f.ID()]
	if !ok {
		return "", nil, flaw.ErrFlawNotFound
	}
	if err := s.checkCVELocked(f); err != nil {
		return "", nil, err
	}

	next := f.Clone()
	next.Affects = prev.Clone().Affects
	if prev.WorkflowState != expectedState {
		next.WorkflowState = prev.WorkflowState
	}
	s.flaws[f.ID()] = next

	return next.WorkflowState, func() { s.flaws[prev.ID()] = prev }, nil
}

func (s *FlawStore) ReplaceAffects(ctx context.Context, flawID uuid.UUID, affects []*flaw.Affect) error {
	_, err := s.replaceAffects(flawID, affects)
	return err
}

func (s *FlawStore) replaceAffects(flawID uuid.UUID, affects []*flaw.Affect) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.flaws[flawID]
	if !ok {
		return nil, flaw.ErrFlawNotFound
	}

	next := prev.Clone()
	next.Affects = make([]*flaw.Affect, 0, len(affects))
	for _, a := range affects {
		next.Affects = append(next.Affects, flaw.ReconstructAffect(a.ID(), flawID, *a))
	}
	s.flaws[flawID] = next

	return func() { s.flaws[flawID] = prev }, nil
}

// WithinTx runs fn with a repository whose writes are undone if fn fails.
func (s *FlawStore) WithinTx(ctx context.Context, fn func(ctx context.Context, repo flaw.Repository) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &txStore{FlawStore: s}
	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// txStore records an undo step for every write made inside a transaction.
type txStore struct {
	*FlawStore
	undo []func()
}

func (t *txStore) CreateFlaw(ctx context.Context, f *flaw.Flaw) error {
	undo, err := t.create(f)
	if err != nil {
		return err
	}
	t.undo = append(t.undo, undo)
	return nil
}

func (t *txStore) UpdateFlaw(ctx context.Context, f *flaw.Flaw, expectedState flaw.WorkflowState) (flaw.WorkflowState, error) {
	state, undo, err := t.update(f, expectedState)
	if err != nil {
		return "", err
	}
	t.undo = append(t.undo, undo)
	return state, nil
}

func (t *txStore) ReplaceAffects(ctx context.Context, flawID uuid.UUID, affects []*flaw.Affect) error {
	undo, err := t.replaceAffects(flawID, affects)
	if err != nil {
		return err
	}
	t.undo = append(t.undo, undo)
	return nil
}

func (t *txStore) WithinTx(ctx context.Context, fn func(ctx context.Context, repo flaw.Repository) error) error {
	return fn(ctx, t)
}

func (t *txStore) rollback() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}
