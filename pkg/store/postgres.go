package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcclellann/staffLoan/pkg/models"
	"github.com/rs/zerolog/log"
)

// PostgresStore implements Storage on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to databaseURL and creates the tables if needed.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("could not create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	log.Info().Msg("Connected to database")
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS loans (
		id UUID PRIMARY KEY,
		user_id TEXT NOT NULL,
		branch_id TEXT NOT NULL,
		amount BIGINT NOT NULL,
		weekly_payment BIGINT NOT NULL,
		start_date TEXT NOT NULL,
		start_period TEXT NOT NULL,
		total_weeks BIGINT NOT NULL,
		interest_rate BIGINT NOT NULL,
		total_amount BIGINT NOT NULL,
		remaining_amount BIGINT NOT NULL CHECK (remaining_amount >= 0),
		paid_weeks BIGINT NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		seq BIGSERIAL
	);
	CREATE INDEX IF NOT EXISTS idx_loans_branch ON loans(branch_id);
	CREATE TABLE IF NOT EXISTS loan_deductions (
		seq BIGSERIAL PRIMARY KEY,
		id UUID NOT NULL UNIQUE,
		loan_id UUID NOT NULL REFERENCES loans(id),
		payroll_record_id TEXT,
		period TEXT NOT NULL,
		amount BIGINT NOT NULL,
		date TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_loan_deductions_period ON loan_deductions(period);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

func (s *PostgresStore) CreateLoan(loan *models.Loan) error {
	ctx := context.Background()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO loans (`+loanColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		loan.ID, loan.UserID, loan.BranchID, loan.Amount, loan.WeeklyPayment, loan.StartDate, loan.StartPeriod,
		loan.TotalWeeks, loan.InterestRate, loan.TotalAmount, loan.RemainingAmount, loan.PaidWeeks, string(loan.Status),
		loan.CreatedAt, loan.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetLoan(id uuid.UUID) (*models.Loan, error) {
	ctx := context.Background()

	row := s.pool.QueryRow(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = $1`, id)
	loan, err := scanPgLoan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}

	loan.Deductions, err = s.queryDeductions(ctx, `WHERE d.loan_id = $1`, loan.ID)
	if err != nil {
		return nil, err
	}
	return loan, nil
}

func (s *PostgresStore) ListLoans(filter models.LoanFilter) ([]*models.Loan, error) {
	ctx := context.Background()

	var (
		where []string
		args  []interface{}
	)
	if filter.BranchID != "" {
		args = append(args, filter.BranchID)
		where = append(where, fmt.Sprintf("branch_id = $%d", len(args)))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + loanColumns + ` FROM loans`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	loans, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.Loan, error) {
		return scanPgLoan(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan loan row: %w", err)
	}
	if loans == nil {
		loans = []*models.Loan{}
	}

	for _, loan := range loans {
		if loan.Deductions, err = s.queryDeductions(ctx, `WHERE d.loan_id = $1`, loan.ID); err != nil {
			return nil, err
		}
	}
	return loans, nil
}

func (s *PostgresStore) UpdateLoan(loan *models.Loan) error {
	return pgUpdateLoan(context.Background(), s.pool, loan)
}

func (s *PostgresStore) AddDeduction(loan *models.Loan, deduction *models.LoanDeduction) error {
	ctx := context.Background()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := pgUpdateLoan(ctx, tx, loan); err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO loan_deductions (id, loan_id, payroll_record_id, period, amount, date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		deduction.ID, deduction.LoanID, deduction.PayrollRecordID, deduction.Period, deduction.Amount, deduction.Date, deduction.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create deduction: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) GetDeductionsForPeriod(period, branchID string) ([]*models.LoanDeduction, error) {
	ctx := context.Background()

	if branchID == "" {
		return s.queryDeductions(ctx, `WHERE d.period = $1`, period)
	}
	return s.queryDeductions(ctx, `JOIN loans l ON l.id = d.loan_id WHERE d.period = $1 AND l.branch_id = $2`, period, branchID)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) queryDeductions(ctx context.Context, clause string, args ...interface{}) ([]*models.LoanDeduction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT d.id, d.loan_id, d.payroll_record_id, d.period, d.amount, d.date, d.created_at
		FROM loan_deductions d `+clause+` ORDER BY d.seq ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query deductions: %w", err)
	}
	deductions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.LoanDeduction, error) {
		var d models.LoanDeduction
		err := row.Scan(&d.ID, &d.LoanID, &d.PayrollRecordID, &d.Period, &d.Amount, &d.Date, &d.CreatedAt)
		return &d, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan deduction row: %w", err)
	}
	if deductions == nil {
		deductions = []*models.LoanDeduction{}
	}
	return deductions, nil
}

type pgExecer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func pgUpdateLoan(ctx context.Context, db pgExecer, loan *models.Loan) error {
	tag, err := db.Exec(ctx,
		`UPDATE loans SET remaining_amount = $1, paid_weeks = $2, status = $3, updated_at = $4 WHERE id = $5`,
		loan.RemainingAmount, loan.PaidWeeks, string(loan.Status), loan.UpdatedAt, loan.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanPgLoan(row pgx.Row) (*models.Loan, error) {
	var loan models.Loan
	var status string
	err := row.Scan(&loan.ID, &loan.UserID, &loan.BranchID, &loan.Amount, &loan.WeeklyPayment, &loan.StartDate, &loan.StartPeriod,
		&loan.TotalWeeks, &loan.InterestRate, &loan.TotalAmount, &loan.RemainingAmount, &loan.PaidWeeks, &status, &loan.CreatedAt, &loan.UpdatedAt)
	if err != nil {
		return nil, err
	}
	loan.Status = models.LoanStatus(status)
	loan.Deductions = []*models.LoanDeduction{}
	return &loan, nil
}
