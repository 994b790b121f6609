package store

import (
	"sync"

	"github.com/google/uuid"
	"github.com/mcclellann/staffLoan/pkg/models"
)

// MemoryStore keeps loans in process memory. It is the default backend and the
// one used by tests.
type MemoryStore struct {
	mu    sync.RWMutex
	loans map[uuid.UUID]*models.Loan
	order []uuid.UUID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		loans: make(map[uuid.UUID]*models.Loan),
	}
}

func (m *MemoryStore) CreateLoan(loan *models.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.loans[loan.ID] = loan.Clone()
	m.order = append(m.order, loan.ID)
	return nil
}

func (m *MemoryStore) GetLoan(id uuid.UUID) (*models.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	loan, ok := m.loans[id]
	if !ok {
		return nil, ErrNotFound
	}
	return loan.Clone(), nil
}

func (m *MemoryStore) ListLoans(filter models.LoanFilter) ([]*models.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	loans := []*models.Loan{}
	for _, id := range m.order {
		if l := m.loans[id]; filter.Matches(l) {
			loans = append(loans, l.Clone())
		}
	}
	return loans, nil
}

func (m *MemoryStore) UpdateLoan(loan *models.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.loans[loan.ID]; !ok {
		return ErrNotFound
	}
	m.loans[loan.ID] = loan.Clone()
	return nil
}

// AddDeduction replaces the stored loan with loan, which must already carry deduction.
func (m *MemoryStore) AddDeduction(loan *models.Loan, deduction *models.LoanDeduction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.loans[loan.ID]; !ok {
		return ErrNotFound
	}
	stored := loan.Clone()
	if n := len(stored.Deductions); n == 0 || stored.Deductions[n-1].ID != deduction.ID {
		stored.Deductions = append(stored.Deductions, deduction.Clone())
	}
	m.loans[loan.ID] = stored
	return nil
}

func (m *MemoryStore) GetDeductionsForPeriod(period, branchID string) ([]*models.LoanDeduction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	deductions := []*models.LoanDeduction{}
	for _, id := range m.order {
		l := m.loans[id]
		if branchID != "" && l.BranchID != branchID {
			continue
		}
		for _, d := range l.Deductions {
			if d.Period == period {
				deductions = append(deductions, d.Clone())
			}
		}
	}
	return deductions, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
