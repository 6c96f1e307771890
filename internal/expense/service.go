package expense

import (
	"context"
	"errors"
	"fmt"
)

// Ingester turns an uploaded receipt into a draft expense
type Ingester interface {
	Ingest(ctx context.Context, upload Upload) (*Draft, error)
	Close() error
}

// Service is the entry point for expense operations
type Service struct {
	repo       *Repository
	ingester   Ingester
	timeSource TimeSource
}

// NewService creates a new Service using the wall clock for statistics
func NewService(repo *Repository, ingester Ingester) *Service {
	return NewServiceWithDeps(repo, ingester, SystemClock{})
}

// NewServiceWithDeps creates a new Service with a custom time source for testing
func NewServiceWithDeps(repo *Repository, ingester Ingester, timeSrc TimeSource) *Service {
	return &Service{
		repo:       repo,
		ingester:   ingester,
		timeSource: timeSrc,
	}
}

// ListExpenses returns all expenses, newest date first
func (s *Service) ListExpenses(ctx context.Context) ([]*Expense, error) {
	return s.repo.List(ctx)
}

// GetExpense retrieves an expense by ID
func (s *Service) GetExpense(ctx context.Context, id string) (*Expense, error) {
	return s.repo.Get(ctx, id)
}

// CreateExpense validates and stores a new expense
func (s *Service) CreateExpense(ctx context.Context, fields Fields) (*Expense, error) {
	return s.repo.Create(ctx, fields)
}

// UpdateExpense replaces every editable field of an existing expense
func (s *Service) UpdateExpense(ctx context.Context, id string, fields Fields) (*Expense, error) {
	return s.repo.Update(ctx, id, fields)
}

// DeleteExpense removes an expense if it exists
func (s *Service) DeleteExpense(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

// IngestReceipt proposes a draft expense from a receipt image without saving it
func (s *Service) IngestReceipt(ctx context.Context, upload Upload) (*Draft, error) {
	return s.ingester.Ingest(ctx, upload)
}

// Statistics summarizes every stored expense against the current month
func (s *Service) Statistics(ctx context.Context) (*Statistics, error) {
	expenses, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("computing statistics: %w", err)
	}
	stats := Summarize(expenses, s.timeSource.Now())
	return &stats, nil
}

// Close releases the recognizer and the store
func (s *Service) Close() error {
	var errs []error
	if s.ingester != nil {
		if err := s.ingester.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing recognizer: %w", err))
		}
	}
	if s.repo != nil {
		if err := s.repo.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing store: %w", err))
		}
	}
	return errors.Join(errs...)
}
