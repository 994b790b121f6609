package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LoanStatus is the lifecycle state of a loan.
type LoanStatus string

const (
	LoanStatusActive    LoanStatus = "ACTIVE"
	LoanStatusPaid      LoanStatus = "PAID"
	LoanStatusCancelled LoanStatus = "CANCELLED"
)

// Valid reports whether s is one of the known statuses.
func (s LoanStatus) Valid() bool {
	switch s {
	case LoanStatusActive, LoanStatusPaid, LoanStatusCancelled:
		return true
	}
	return false
}

// Loan is a borrowing agreement between the business and one employee.
// All money fields are minor currency units (cents).
type Loan struct {
	ID              uuid.UUID        `json:"id"`
	UserID          string           `json:"user_id"`   // Borrowing employee, owned elsewhere
	BranchID        string           `json:"branch_id"` // Branch the loan belongs to
	Amount          int64            `json:"amount"`    // Principal
	WeeklyPayment   int64            `json:"weekly_payment"`
	StartDate       string           `json:"start_date"`   // YYYY-MM-DD
	StartPeriod     string           `json:"start_period"` // YYYY-Www of StartDate
	TotalWeeks      int64            `json:"total_weeks"`
	InterestRate    int64            `json:"interest_rate"` // Percent, 0 or 10
	TotalAmount     int64            `json:"total_amount"`
	RemainingAmount int64            `json:"remaining_amount"`
	PaidWeeks       int64            `json:"paid_weeks"` // Number of deductions recorded
	Status          LoanStatus       `json:"status"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
	Deductions      []*LoanDeduction `json:"deductions"`
}

// LoanDeduction is one repayment applied against a loan.
type LoanDeduction struct {
	ID              uuid.UUID `json:"id"`
	LoanID          uuid.UUID `json:"loan_id"`
	PayrollRecordID *string   `json:"payroll_record_id,omitempty"` // Nil when recorded outside a payroll run
	Period          string    `json:"period"`                      // Payroll week the payment is attributed to
	Amount          int64     `json:"amount"`
	Date            string    `json:"date"` // YYYY-MM-DD
	CreatedAt       time.Time `json:"created_at"`
}

// LoanFilter narrows ListLoans. Empty fields match everything.
type LoanFilter struct {
	BranchID string
	UserID   string
	Status   LoanStatus
}

// Matches reports whether loan satisfies the filter.
func (f LoanFilter) Matches(loan *Loan) bool {
	if f.BranchID != "" && loan.BranchID != f.BranchID {
		return false
	}
	if f.UserID != "" && loan.UserID != f.UserID {
		return false
	}
	if f.Status != "" && loan.Status != f.Status {
		return false
	}
	return true
}

// PaidAmount is how much of the total has been repaid so far.
func (l *Loan) PaidAmount() int64 {
	return l.TotalAmount - l.RemainingAmount
}

// Progress returns the repaid share of the total as a percentage, rounded to two places.
func (l *Loan) Progress() decimal.Decimal {
	if l.TotalAmount <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(l.PaidAmount()).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(l.TotalAmount)).
		Round(2)
}

// NextDeduction is what a payroll run should withhold this week: the weekly
// payment, capped at the remaining balance. Zero unless the loan is active.
func (l *Loan) NextDeduction() int64 {
	if l.Status != LoanStatusActive {
		return 0
	}
	if l.RemainingAmount < l.WeeklyPayment {
		return l.RemainingAmount
	}
	return l.WeeklyPayment
}

// Clone returns a deep copy of the loan, deductions included.
func (l *Loan) Clone() *Loan {
	c := *l
	c.Deductions = make([]*LoanDeduction, len(l.Deductions))
	for i, d := range l.Deductions {
		c.Deductions[i] = d.Clone()
	}
	return &c
}

// Clone returns a copy of the deduction.
func (d *LoanDeduction) Clone() *LoanDeduction {
	c := *d
	if d.PayrollRecordID != nil {
		ref := *d.PayrollRecordID
		c.PayrollRecordID = &ref
	}
	return &c
}

// PeriodDeductions is the payroll-side view of one period: every deduction
// attributed to it and their sum.
type PeriodDeductions struct {
	Period     string           `json:"period"`
	Total      int64            `json:"total"`
	Deductions []*LoanDeduction `json:"deductions"`
}
