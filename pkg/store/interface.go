package store

import (
	"errors"

	"github.com/google/uuid"
	"github.com/mcclellann/staffLoan/pkg/models"
)

// ErrNotFound is returned when a loan id has no row.
var ErrNotFound = errors.New("loan not found")

// Storage defines the interface for database operations related to loans and their deductions.
// Loans returned by a Storage are owned by the caller; mutating them does not change stored state.
type Storage interface {
	CreateLoan(loan *models.Loan) error
	GetLoan(id uuid.UUID) (*models.Loan, error)
	ListLoans(filter models.LoanFilter) ([]*models.Loan, error)
	UpdateLoan(loan *models.Loan) error

	// AddDeduction stores deduction and the loan's updated balance, paid weeks and
	// status in one atomic step.
	AddDeduction(loan *models.Loan, deduction *models.LoanDeduction) error
	// GetDeductionsForPeriod lists deductions attributed to period, restricted to
	// loans of branchID when it is not empty.
	GetDeductionsForPeriod(period, branchID string) ([]*models.LoanDeduction, error)

	Close() error
}
