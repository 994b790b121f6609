package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/staffLoan/pkg/models"
	"github.com/rs/zerolog/log"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore manages the database connection and operations for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLiteStore and initializes the database.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	// Manually enable foreign keys and WAL mode
	_, err = db.Exec("PRAGMA foreign_keys = ON;")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	_, err = db.Exec("PRAGMA journal_mode = WAL;")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	log.Info().Str("path", dataSourceName).Msg("SQLite store ready")
	return s, nil
}

// initSchema creates the database tables if they don't already exist.
// Money columns are INTEGER cents.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		branch_id TEXT NOT NULL,
		amount INTEGER NOT NULL,
		weekly_payment INTEGER NOT NULL,
		start_date TEXT NOT NULL,
		start_period TEXT NOT NULL,
		total_weeks INTEGER NOT NULL,
		interest_rate INTEGER NOT NULL,
		total_amount INTEGER NOT NULL,
		remaining_amount INTEGER NOT NULL,
		paid_weeks INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_loans_branch ON loans(branch_id);
	CREATE TABLE IF NOT EXISTS loan_deductions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		loan_id TEXT NOT NULL,
		payroll_record_id TEXT,
		period TEXT NOT NULL,
		amount INTEGER NOT NULL,
		date TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	CREATE INDEX IF NOT EXISTS idx_loan_deductions_period ON loan_deductions(period);
	`
	_, err := s.db.Exec(schema)
	return err
}

const loanColumns = `id, user_id, branch_id, amount, weekly_payment, start_date, start_period, total_weeks, interest_rate, total_amount, remaining_amount, paid_weeks, status, created_at, updated_at`

// CreateLoan inserts a new loan into the database.
func (s *SQLiteStore) CreateLoan(loan *models.Loan) error {
	_, err := s.db.Exec(
		`INSERT INTO loans (`+loanColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loan.ID.String(), loan.UserID, loan.BranchID, loan.Amount, loan.WeeklyPayment, loan.StartDate, loan.StartPeriod,
		loan.TotalWeeks, loan.InterestRate, loan.TotalAmount, loan.RemainingAmount, loan.PaidWeeks, string(loan.Status),
		loan.CreatedAt, loan.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}
	return nil
}

// GetLoan retrieves a loan and its deductions by ID.
func (s *SQLiteStore) GetLoan(id uuid.UUID) (*models.Loan, error) {
	row := s.db.QueryRow(`SELECT `+loanColumns+` FROM loans WHERE id = ?`, id.String())
	loan, err := scanLoan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}

	loan.Deductions, err = s.deductionsForLoan(loan.ID)
	if err != nil {
		return nil, err
	}
	return loan, nil
}

// ListLoans retrieves the loans matching filter, oldest first.
func (s *SQLiteStore) ListLoans(filter models.LoanFilter) ([]*models.Loan, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.BranchID != "" {
		where = append(where, "branch_id = ?")
		args = append(args, filter.BranchID)
	}
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT ` + loanColumns + ` FROM loans`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY rowid ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	defer rows.Close()

	loans := []*models.Loan{}
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan row: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	rows.Close()

	for _, loan := range loans {
		if loan.Deductions, err = s.deductionsForLoan(loan.ID); err != nil {
			return nil, err
		}
	}
	return loans, nil
}

// UpdateLoan writes the mutable loan fields.
func (s *SQLiteStore) UpdateLoan(loan *models.Loan) error {
	return updateLoan(s.db, loan)
}

// AddDeduction inserts the deduction and updates the loan within one transaction.
func (s *SQLiteStore) AddDeduction(loan *models.Loan, deduction *models.LoanDeduction) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := updateLoan(tx, loan); err != nil {
		return err
	}

	var payrollRecordID sql.NullString
	if deduction.PayrollRecordID != nil {
		payrollRecordID = sql.NullString{String: *deduction.PayrollRecordID, Valid: true}
	}
	_, err = tx.Exec(
		`INSERT INTO loan_deductions (id, loan_id, payroll_record_id, period, amount, date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		deduction.ID.String(), deduction.LoanID.String(), payrollRecordID, deduction.Period, deduction.Amount, deduction.Date, deduction.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create deduction: %w", err)
	}

	return tx.Commit()
}

// GetDeductionsForPeriod retrieves the deductions attributed to a payroll period.
func (s *SQLiteStore) GetDeductionsForPeriod(period, branchID string) ([]*models.LoanDeduction, error) {
	query := `SELECT d.id, d.loan_id, d.payroll_record_id, d.period, d.amount, d.date, d.created_at
		FROM loan_deductions d JOIN loans l ON l.id = d.loan_id
		WHERE d.period = ?`
	args := []interface{}{period}
	if branchID != "" {
		query += " AND l.branch_id = ?"
		args = append(args, branchID)
	}
	query += " ORDER BY d.seq ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get deductions for period %s: %w", period, err)
	}
	defer rows.Close()
	return scanDeductions(rows)
}

func (s *SQLiteStore) deductionsForLoan(loanID uuid.UUID) ([]*models.LoanDeduction, error) {
	rows, err := s.db.Query(`SELECT id, loan_id, payroll_record_id, period, amount, date, created_at
		FROM loan_deductions WHERE loan_id = ? ORDER BY seq ASC`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get deductions for loan %s: %w", loanID, err)
	}
	defer rows.Close()
	return scanDeductions(rows)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

func updateLoan(db execer, loan *models.Loan) error {
	result, err := db.Exec(
		`UPDATE loans SET remaining_amount = ?, paid_weeks = ?, status = ?, updated_at = ? WHERE id = ?`,
		loan.RemainingAmount, loan.PaidWeeks, string(loan.Status), loan.UpdatedAt, loan.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanLoan(row scanner) (*models.Loan, error) {
	var loan models.Loan
	var loanIDStr, status string
	var created, updated time.Time
	err := row.Scan(&loanIDStr, &loan.UserID, &loan.BranchID, &loan.Amount, &loan.WeeklyPayment, &loan.StartDate, &loan.StartPeriod,
		&loan.TotalWeeks, &loan.InterestRate, &loan.TotalAmount, &loan.RemainingAmount, &loan.PaidWeeks, &status, &created, &updated)
	if err != nil {
		return nil, err
	}
	loan.ID, err = uuid.Parse(loanIDStr)
	if err != nil {
		return nil, fmt.Errorf("corrupt loan id %q: %w", loanIDStr, err)
	}
	loan.Status = models.LoanStatus(status)
	loan.CreatedAt = created
	loan.UpdatedAt = updated
	loan.Deductions = []*models.LoanDeduction{}
	return &loan, nil
}

func scanDeductions(rows *sql.Rows) ([]*models.LoanDeduction, error) {
	deductions := []*models.LoanDeduction{}
	for rows.Next() {
		var d models.LoanDeduction
		var idStr, loanIDStr string
		var payrollRecordID sql.NullString
		var created time.Time
		if err := rows.Scan(&idStr, &loanIDStr, &payrollRecordID, &d.Period, &d.Amount, &d.Date, &created); err != nil {
			return nil, fmt.Errorf("failed to scan deduction row: %w", err)
		}
		d.ID = uuid.MustParse(idStr)
		d.LoanID = uuid.MustParse(loanIDStr)
		if payrollRecordID.Valid {
			ref := payrollRecordID.String
			d.PayrollRecordID = &ref
		}
		d.CreatedAt = created
		deductions = append(deductions, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for deductions: %w", err)
	}
	return deductions, nil
}
