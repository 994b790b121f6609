package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/staffLoan/pkg/models"
	"github.com/mcclellann/staffLoan/pkg/money"
	"github.com/mcclellann/staffLoan/pkg/period"
	"github.com/mcclellann/staffLoan/pkg/store"
	"github.com/rs/zerolog/log"
)

// Ledger handles the business logic for employee loans and their payroll deductions.
type Ledger struct {
	storage       store.Storage
	maxLoanAmount int64
	now           func() time.Time
	locks         *loanLocks
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithMaxLoanAmount sets the largest principal CreateLoan accepts, in cents.
func WithMaxLoanAmount(cents int64) Option {
	return func(l *Ledger) {
		l.maxLoanAmount = cents
	}
}

// WithClock replaces time.Now for created/updated timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, opts ...Option) *Ledger {
	l := &Ledger{
		storage:       s,
		maxLoanAmount: DefaultMaxLoanAmount,
		now:           time.Now,
		locks:         newLoanLocks(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// MaxLoanAmount is the configured principal ceiling in cents.
func (l *Ledger) MaxLoanAmount() int64 {
	return l.maxLoanAmount
}

// CreateLoanInput contains input for creating a loan.
type CreateLoanInput struct {
	UserID        string
	BranchID      string
	Amount        int64
	WeeklyPayment int64
	StartDate     string // YYYY-MM-DD
	ApplyInterest *bool  // Nil means true
}

// CreateLoan computes the loan's terms and stores it as ACTIVE with nothing paid.
func (l *Ledger) CreateLoan(input CreateLoanInput) (*models.Loan, error) {
	userID := strings.TrimSpace(input.UserID)
	branchID := strings.TrimSpace(input.BranchID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}
	if branchID == "" {
		return nil, fmt.Errorf("%w: branch id is required", ErrInvalidArgument)
	}
	startDate, err := period.ParseDate(input.StartDate)
	if err != nil {
		return nil, fmt.Errorf("%w: start date %q is not YYYY-MM-DD", ErrInvalidArgument, input.StartDate)
	}

	terms, err := CalculateTerms(input.Amount, input.WeeklyPayment, input.ApplyInterest)
	if err != nil {
		return nil, err
	}
	if input.Amount > l.maxLoanAmount {
		log.Warn().
			Str("user_id", userID).
			Int64("amount", input.Amount).
			Int64("max", l.maxLoanAmount).
			Msg("Loan above maximum refused")
		return nil, fmt.Errorf("%w: %s is above the maximum of %s", ErrLimitExceeded, money.Format(input.Amount), money.Format(l.maxLoanAmount))
	}

	now := l.now()
	loan := &models.Loan{
		ID:              uuid.New(),
		UserID:          userID,
		BranchID:        branchID,
		Amount:          input.Amount,
		WeeklyPayment:   input.WeeklyPayment,
		StartDate:       input.StartDate,
		StartPeriod:     period.Label(startDate),
		TotalWeeks:      terms.TotalWeeks,
		InterestRate:    terms.InterestRate,
		TotalAmount:     terms.TotalAmount,
		RemainingAmount: terms.TotalAmount,
		PaidWeeks:       0,
		Status:          models.LoanStatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
		Deductions:      []*models.LoanDeduction{},
	}

	if err := l.storage.CreateLoan(loan); err != nil {
		return nil, fmt.Errorf("failed to store loan: %w", err)
	}

	log.Info().
		Str("loan_id", loan.ID.String()).
		Str("user_id", loan.UserID).
		Str("branch_id", loan.BranchID).
		Str("amount", money.Format(loan.Amount)).
		Str("total", money.Format(loan.TotalAmount)).
		Int64("weeks", loan.TotalWeeks).
		Int64("interest_rate", loan.InterestRate).
		Msg("Loan created")

	return loan, nil
}

// RecordPayment applies a repayment made outside a payroll run. The period is
// taken as given and is not checked against date, so corrections can be
// attributed to an earlier week.
func (l *Ledger) RecordPayment(loanID uuid.UUID, amount int64, date, periodLabel string) (*models.Loan, error) {
	return l.recordDeduction(loanID, nil, amount, date, periodLabel)
}

// RecordPayrollDeduction is RecordPayment for a deduction withheld by the
// payroll record payrollRecordID.
func (l *Ledger) RecordPayrollDeduction(loanID uuid.UUID, payrollRecordID string, amount int64, date, periodLabel string) (*models.Loan, error) {
	payrollRecordID = strings.TrimSpace(payrollRecordID)
	if payrollRecordID == "" {
		return nil, fmt.Errorf("%w: payroll record id is required", ErrInvalidArgument)
	}
	return l.recordDeduction(loanID, &payrollRecordID, amount, date, periodLabel)
}

func (l *Ledger) recordDeduction(loanID uuid.UUID, payrollRecordID *string, amount int64, date, periodLabel string) (*models.Loan, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: payment amount must be positive", ErrInvalidArgument)
	}
	if _, err := period.ParseDate(date); err != nil {
		return nil, fmt.Errorf("%w: payment date %q is not YYYY-MM-DD", ErrInvalidArgument, date)
	}
	if !period.Valid(periodLabel) {
		return nil, fmt.Errorf("%w: period %q is not a YYYY-Www label", ErrInvalidArgument, periodLabel)
	}

	unlock := l.locks.lock(loanID)
	defer unlock()

	loan, err := l.getLoan(loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != models.LoanStatusActive {
		log.Warn().
			Str("loan_id", loanID.String()).
			Str("status", string(loan.Status)).
			Msg("Payment refused on inactive loan")
		return nil, fmt.Errorf("%w: loan %s is %s", ErrInvalidState, loanID, loan.Status)
	}

	now := l.now()
	deduction := &models.LoanDeduction{
		ID:              uuid.New(),
		LoanID:          loan.ID,
		PayrollRecordID: payrollRecordID,
		Period:          periodLabel,
		Amount:          amount,
		Date:            date,
		CreatedAt:       now,
	}

	loan.Deductions = append(loan.Deductions, deduction)
	// Overpayment is absorbed: the balance stops at zero.
	loan.RemainingAmount -= amount
	if loan.RemainingAmount < 0 {
		loan.RemainingAmount = 0
	}
	loan.PaidWeeks++
	if loan.RemainingAmount == 0 {
		loan.Status = models.LoanStatusPaid
	}
	loan.UpdatedAt = now

	if err := l.storage.AddDeduction(loan, deduction); err != nil {
		return nil, fmt.Errorf("failed to store deduction: %w", err)
	}

	log.Info().
		Str("loan_id", loan.ID.String()).
		Str("period", periodLabel).
		Str("amount", money.Format(amount)).
		Str("remaining", money.Format(loan.RemainingAmount)).
		Int64("paid_weeks", loan.PaidWeeks).
		Msg("Loan payment recorded")
	if loan.Status == models.LoanStatusPaid {
		log.Info().Str("loan_id", loan.ID.String()).Msg("Loan paid off")
	}

	return loan, nil
}

// CancelLoan moves an active loan to CANCELLED. The remaining balance is kept
// as it was at cancellation.
func (l *Ledger) CancelLoan(loanID uuid.UUID) (*models.Loan, error) {
	unlock := l.locks.lock(loanID)
	defer unlock()

	loan, err := l.getLoan(loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != models.LoanStatusActive {
		return nil, fmt.Errorf("%w: loan %s is %s", ErrInvalidState, loanID, loan.Status)
	}

	loan.Status = models.LoanStatusCancelled
	loan.UpdatedAt = l.now()
	if err := l.storage.UpdateLoan(loan); err != nil {
		return nil, fmt.Errorf("failed to cancel loan: %w", err)
	}

	log.Info().
		Str("loan_id", loan.ID.String()).
		Str("remaining", money.Format(loan.RemainingAmount)).
		Msg("Loan cancelled")
	return loan, nil
}

// GetLoan retrieves a loan by its ID.
func (l *Ledger) GetLoan(id uuid.UUID) (*models.Loan, error) {
	return l.getLoan(id)
}

// ListLoans retrieves the loans matching filter. Order is whatever the store returns.
func (l *Ledger) ListLoans(filter models.LoanFilter) ([]*models.Loan, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, filter.Status)
	}
	return l.storage.ListLoans(filter)
}

// PeriodDeductions collects the deductions attributed to a payroll period,
// optionally limited to one branch, with their total.
func (l *Ledger) PeriodDeductions(periodLabel, branchID string) (*models.PeriodDeductions, error) {
	if !period.Valid(periodLabel) {
		return nil, fmt.Errorf("%w: period %q is not a YYYY-Www label", ErrInvalidArgument, periodLabel)
	}

	deductions, err := l.storage.GetDeductionsForPeriod(periodLabel, branchID)
	if err != nil {
		return nil, err
	}

	var total int64
	for _, d := range deductions {
		total += d.Amount
	}
	return &models.PeriodDeductions{
		Period:     periodLabel,
		Total:      total,
		Deductions: deductions,
	}, nil
}

func (l *Ledger) getLoan(id uuid.UUID) (*models.Loan, error) {
	loan, err := l.storage.GetLoan(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	return loan, nil
}
