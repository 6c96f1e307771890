package expense

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// IDGenerator generates unique IDs for expenses
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// uuidGenerator generates random (v4) UUIDs
type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

// SystemClock is the wall clock TimeSource
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

// Repository provides typed expense operations over a DB
type Repository struct {
	db          DB
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewRepository creates a Repository with UUID ids and the wall clock
func NewRepository(db DB) *Repository {
	return NewRepositoryWithDeps(db, &uuidGenerator{}, SystemClock{})
}

// NewRepositoryWithDeps creates a Repository with custom dependencies for testing
func NewRepositoryWithDeps(db DB, idGen IDGenerator, timeSrc TimeSource) *Repository {
	return &Repository{
		db:          db,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// List returns every expense, newest date first
func (r *Repository) List(ctx context.Context) ([]*Expense, error) {
	expenses, err := r.db.ListExpenses(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: listing expenses: %w", ErrStorage, err)
	}
	if expenses == nil {
		expenses = []*Expense{}
	}
	return expenses, nil
}

// Get returns the expense with the given ID or ErrNotFound
func (r *Repository) Get(ctx context.Context, id string) (*Expense, error) {
	expense, err := r.db.GetExpense(ctx, id)
	if err != nil {
		return nil, storeError("getting expense", err)
	}
	return expense, nil
}

// Create validates fields and stores a new expense
func (r *Repository) Create(ctx context.Context, fields Fields) (*Expense, error) {
	if err := fields.Validate(); err != nil {
		return nil, err
	}

	expense := &Expense{
		ID:        r.idGenerator.Generate(),
		CreatedAt: r.timeSource.Now(),
	}
	fields.apply(expense)

	if err := r.db.InsertExpense(ctx, expense); err != nil {
		return nil, fmt.Errorf("%w: saving expense: %w", ErrStorage, err)
	}

	return r.Get(ctx, expense.ID)
}

// Update replaces the editable fields of an existing expense and returns
// what the store holds afterwards
func (r *Repository) Update(ctx context.Context, id string, fields Fields) (*Expense, error) {
	if err := fields.Validate(); err != nil {
		return nil, err
	}

	expense := &Expense{ID: id}
	fields.apply(expense)

	updated, err := r.db.UpdateExpense(ctx, expense)
	if err != nil {
		return nil, fmt.Errorf("%w: updating expense: %w", ErrStorage, err)
	}
	if !updated {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return r.Get(ctx, id)
}

// Delete removes an expense; a missing ID is not an error
func (r *Repository) Delete(ctx context.Context, id string) error {
	if err := r.db.DeleteExpense(ctx, id); err != nil {
		return fmt.Errorf("%w: deleting expense: %w", ErrStorage, err)
	}
	return nil
}

// Close closes the underlying DB
func (r *Repository) Close() error {
	return r.db.Close()
}

// storeError keeps not-found results as they are and classifies everything else as storage failures
func storeError(op string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
