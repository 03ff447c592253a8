package flaw

import (
	"context"

	"github.com/ahrav/flawtracker/pkg/common/uuid"
)

// ListOptions filters and pages ListFlaws results.
type ListOptions struct {
	WorkflowState WorkflowState
	Embargoed     *bool
	Limit         int
	Offset        int
}

// Repository persists flaws and their affects.
type Repository interface {
	// CreateFlaw inserts a new flaw together with its affects.
	CreateFlaw(ctx context.Context, f *Flaw) error

	// GetFlaw loads a flaw and its affects. It returns ErrFlawNotFound when
	// no such flaw exists.
	GetFlaw(ctx context.Context, id uuid.UUID) (*Flaw, error)

	// GetFlawForUpdate is GetFlaw but locks the row until the surrounding
	// transaction ends. Outside WithinTx it behaves like GetFlaw.
	GetFlawForUpdate(ctx context.Context, id uuid.UUID) (*Flaw, error)

	// FindByCVE returns the flaw carrying cveID or ErrFlawNotFound.
	FindByCVE(ctx context.Context, cveID string) (*Flaw, error)

	// ListFlaws returns flaws ordered by creation time, newest first.
	ListFlaws(ctx context.Context, opts ListOptions) ([]*Flaw, error)

	// UpdateFlaw writes the content fields and task link of f. The workflow
	// state is only written if the stored value still equals expectedState;
	// otherwise the stored state is kept. The returned state is the one
	// held in storage after the write.
	UpdateFlaw(ctx context.Context, f *Flaw, expectedState WorkflowState) (WorkflowState, error)

	// ReplaceAffects makes the stored affects of flawID equal to affects.
	ReplaceAffects(ctx context.Context, flawID uuid.UUID, affects []*Affect) error

	// WithinTx runs fn against a repository bound to a single transaction.
	// The transaction commits when fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error
}
