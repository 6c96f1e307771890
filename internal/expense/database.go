package expense

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

const expenseBucketName = "expenses"

// DB defines the keyed record store backing the repository
type DB interface {
	// InsertExpense stores a new expense; the id must not exist yet
	InsertExpense(ctx context.Context, expense *Expense) error

	// GetExpense retrieves an expense by ID, returning ErrNotFound if absent
	GetExpense(ctx context.Context, id string) (*Expense, error)

	// UpdateExpense overwrites the editable fields of an existing expense.
	// It reports false when no expense matched the ID.
	UpdateExpense(ctx context.Context, expense *Expense) (bool, error)

	// DeleteExpense removes an expense; deleting a missing ID is not an error
	DeleteExpense(ctx context.Context, id string) error

	// ListExpenses returns all expenses ordered by date descending, then insertion order
	ListExpenses(ctx context.Context) ([]*Expense, error)

	// Close closes the database connection
	Close() error
}

// boltRecord is the value stored per key; Seq records insertion order
type boltRecord struct {
	Seq uint64 `json:"seq"`
	Expense
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB opens (or creates) a BoltDB file and ensures the expense bucket exists
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(expenseBucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// InsertExpense saves a new expense to the database
func (b *BoltDB) InsertExpense(_ context.Context, expense *Expense) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(expenseBucketName))
		if bucket.Get([]byte(expense.ID)) != nil {
			return fmt.Errorf("expense already exists: %s", expense.ID)
		}
		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("allocating sequence: %w", err)
		}
		data, err := json.Marshal(boltRecord{Seq: seq, Expense: *expense})
		if err != nil {
			return fmt.Errorf("marshaling expense: %w", err)
		}
		return bucket.Put([]byte(expense.ID), data)
	})
}

// GetExpense retrieves an expense by ID
func (b *BoltDB) GetExpense(_ context.Context, id string) (*Expense, error) {
	var record boltRecord
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(expenseBucketName)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return nil, err
	}
	return &record.Expense, nil
}

// UpdateExpense replaces the editable fields of a stored expense, keeping
// its ID, creation time and insertion sequence
func (b *BoltDB) UpdateExpense(_ context.Context, expense *Expense) (bool, error) {
	var updated bool
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(expenseBucketName))
		data := bucket.Get([]byte(expense.ID))
		if data == nil {
			return nil
		}

		var record boltRecord
		if err := json.Unmarshal(data, &record); err != nil {
			return fmt.Errorf("unmarshaling expense: %w", err)
		}
		record.Amount = expense.Amount
		record.Category = expense.Category
		record.Vendor = expense.Vendor
		record.Date = expense.Date
		record.Description = expense.Description
		record.PhotoURL = expense.PhotoURL

		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshaling expense: %w", err)
		}
		updated = true
		return bucket.Put([]byte(expense.ID), data)
	})
	if err != nil {
		return false, err
	}
	return updated, nil
}

// DeleteExpense removes an expense from the database
func (b *BoltDB) DeleteExpense(_ context.Context, id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(expenseBucketName)).Delete([]byte(id))
	})
}

// ListExpenses returns all expenses, newest date first
func (b *BoltDB) ListExpenses(_ context.Context) ([]*Expense, error) {
	records := make([]boltRecord, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(expenseBucketName)).ForEach(func(k, v []byte) error {
			var record boltRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("unmarshaling expense %s: %w", k, err)
			}
			records = append(records, record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Date != records[j].Date {
			return records[i].Date > records[j].Date
		}
		return records[i].Seq < records[j].Seq
	})

	expenses := make([]*Expense, 0, len(records))
	for i := range records {
		expenses = append(expenses, &records[i].Expense)
	}
	return expenses, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
