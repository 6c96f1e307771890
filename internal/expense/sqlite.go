package expense

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const expenseColumns = "id, amount, category, vendor, date, description, photo_url, created_at"

// SQLiteDB implements the DB interface on top of an SQLite file
type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB opens the database at path and applies pending migrations
func NewSQLiteDB(path string) (*SQLiteDB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(path); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteDB{db: db}, nil
}

// InsertExpense saves a new expense. A zero CreatedAt is left to the column default.
func (s *SQLiteDB) InsertExpense(ctx context.Context, expense *Expense) error {
	var err error
	if expense.CreatedAt.IsZero() {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO expenses (id, amount, category, vendor, date, description, photo_url)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			expense.ID, expense.Amount, expense.Category, expense.Vendor,
			expense.Date, expense.Description, expense.PhotoURL)
	} else {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO expenses (`+expenseColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			expense.ID, expense.Amount, expense.Category, expense.Vendor,
			expense.Date, expense.Description, expense.PhotoURL,
			expense.CreatedAt.UTC().Format(time.RFC3339Nano))
	}
	if err != nil {
		return fmt.Errorf("insert expense: %w", err)
	}
	return nil
}

// GetExpense retrieves an expense by ID
func (s *SQLiteDB) GetExpense(ctx context.Context, id string) (*Expense, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+expenseColumns+` FROM expenses WHERE id = ?`, id)
	expense, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get expense: %w", err)
	}
	return expense, nil
}

// UpdateExpense overwrites the editable columns of an expense
func (s *SQLiteDB) UpdateExpense(ctx context.Context, expense *Expense) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE expenses SET amount = ?, category = ?, vendor = ?, date = ?, description = ?, photo_url = ?
		 WHERE id = ?`,
		expense.Amount, expense.Category, expense.Vendor, expense.Date,
		expense.Description, expense.PhotoURL, expense.ID)
	if err != nil {
		return false, fmt.Errorf("update expense: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update expense rows affected: %w", err)
	}
	return n > 0, nil
}

// DeleteExpense removes an expense
func (s *SQLiteDB) DeleteExpense(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM expenses WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}
	return nil
}

// ListExpenses returns all expenses, newest date first; rowid keeps insertion order for ties
func (s *SQLiteDB) ListExpenses(ctx context.Context) ([]*Expense, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+expenseColumns+` FROM expenses ORDER BY date DESC, rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	defer rows.Close()

	expenses := make([]*Expense, 0)
	for rows.Next() {
		expense, err := scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		expenses = append(expenses, expense)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expenses: %w", err)
	}
	return expenses, nil
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExpense(row rowScanner) (*Expense, error) {
	var (
		e         Expense
		createdAt string
	)
	if err := row.Scan(&e.ID, &e.Amount, &e.Category, &e.Vendor, &e.Date,
		&e.Description, &e.PhotoURL, &createdAt); err != nil {
		return nil, err
	}
	t, err := parseTimestamp(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at %q: %w", createdAt, err)
	}
	e.CreatedAt = t
	return &e, nil
}

// parseTimestamp accepts both RFC 3339 and SQLite's CURRENT_TIMESTAMP format
func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", s)
}
