package ledger

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/staffLoan/pkg/models"
	"github.com/mcclellann/staffLoan/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, time.April, 15, 10, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T, opts ...Option) (*Ledger, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewLedger(s, opts...), s
}

func createLoan(t *testing.T, l *Ledger, amount, weekly int64) *models.Loan {
	t.Helper()
	loan, err := l.CreateLoan(CreateLoanInput{
		UserID:        "u7",
		BranchID:      "b1",
		Amount:        amount,
		WeeklyPayment: weekly,
		StartDate:     "2024-04-08",
	})
	require.NoError(t, err)
	return loan
}

// failingStore refuses every deduction write.
type failingStore struct {
	*store.MemoryStore
}

func (f failingStore) AddDeduction(*models.Loan, *models.LoanDeduction) error {
	return errors.New("disk full")
}

func TestCreateLoan(t *testing.T) {
	l, s := newTestLedger(t)

	loan, err := l.CreateLoan(CreateLoanInput{
		UserID:        "u7",
		BranchID:      "b1",
		Amount:        4_000_000,
		WeeklyPayment: 600_000,
		StartDate:     "2024-04-08",
	})
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, loan.ID)
	assert.Equal(t, "u7", loan.UserID)
	assert.Equal(t, "b1", loan.BranchID)
	assert.Equal(t, "2024-W15", loan.StartPeriod)
	assert.Equal(t, int64(7), loan.TotalWeeks)
	assert.Equal(t, int64(10), loan.InterestRate)
	assert.Equal(t, int64(4_400_000), loan.TotalAmount)
	assert.Equal(t, loan.TotalAmount, loan.RemainingAmount)
	assert.Equal(t, int64(0), loan.PaidWeeks)
	assert.Equal(t, models.LoanStatusActive, loan.Status)
	assert.Empty(t, loan.Deductions)
	assert.Equal(t, fixedNow, loan.CreatedAt)

	stored, err := s.GetLoan(loan.ID)
	require.NoError(t, err)
	assert.Equal(t, loan.TotalAmount, stored.TotalAmount)
}

func TestCreateLoan_InterestOptOut(t *testing.T) {
	l, _ := newTestLedger(t)
	noInterest := false

	loan, err := l.CreateLoan(CreateLoanInput{
		UserID:        "u9",
		BranchID:      "b1",
		Amount:        1_000_000,
		WeeklyPayment: 150_000,
		StartDate:     "2024-04-10",
		ApplyInterest: &noInterest,
	})
	require.NoError(t, err)

	assert.Greater(t, loan.TotalWeeks, int64(1))
	assert.Equal(t, int64(0), loan.InterestRate)
	assert.Equal(t, loan.Amount, loan.TotalAmount)
}

func TestCreateLoan_LimitEnforced(t *testing.T) {
	l, s := newTestLedger(t)

	_, err := l.CreateLoan(CreateLoanInput{UserID: "u1", BranchID: "b1", Amount: 5_000_001, WeeklyPayment: 500_000, StartDate: "2024-04-08"})
	assert.ErrorIs(t, err, ErrLimitExceeded)

	loans, err := s.ListLoans(models.LoanFilter{})
	require.NoError(t, err)
	assert.Empty(t, loans, "refused loan must not be stored")

	loan, err := l.CreateLoan(CreateLoanInput{UserID: "u1", BranchID: "b1", Amount: 5_000_000, WeeklyPayment: 500_000, StartDate: "2024-04-08"})
	require.NoError(t, err)
	assert.Equal(t, int64(5_000_000), loan.Amount)
}

func TestCreateLoan_ConfiguredLimit(t *testing.T) {
	l, _ := newTestLedger(t, WithMaxLoanAmount(100_000))
	assert.Equal(t, int64(100_000), l.MaxLoanAmount())

	_, err := l.CreateLoan(CreateLoanInput{UserID: "u1", BranchID: "b1", Amount: 100_001, WeeklyPayment: 100_001, StartDate: "2024-04-08"})
	assert.ErrorIs(t, err, ErrLimitExceeded)
}

func TestCreateLoan_InvalidInput(t *testing.T) {
	l, s := newTestLedger(t)

	valid := CreateLoanInput{UserID: "u1", BranchID: "b1", Amount: 100_000, WeeklyPayment: 50_000, StartDate: "2024-04-08"}
	cases := map[string]func(in *CreateLoanInput){
		"zero amount":          func(in *CreateLoanInput) { in.Amount = 0 },
		"negative weekly":      func(in *CreateLoanInput) { in.WeeklyPayment = -1 },
		"weekly above amount":  func(in *CreateLoanInput) { in.WeeklyPayment = in.Amount + 1 },
		"missing user":         func(in *CreateLoanInput) { in.UserID = "  " },
		"missing branch":       func(in *CreateLoanInput) { in.BranchID = "" },
		"malformed start date": func(in *CreateLoanInput) { in.StartDate = "04/08/2024" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := valid
			mutate(&in)
			_, err := l.CreateLoan(in)
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}

	loans, _ := s.ListLoans(models.LoanFilter{})
	assert.Empty(t, loans)
}

func TestCreateLoan_StartPeriodUsesISOYear(t *testing.T) {
	l, _ := newTestLedger(t)

	loan, err := l.CreateLoan(CreateLoanInput{UserID: "u1", BranchID: "b1", Amount: 100_000, WeeklyPayment: 50_000, StartDate: "2021-01-01"})
	require.NoError(t, err)
	assert.Equal(t, "2020-W53", loan.StartPeriod)
}

func TestScenario_CreateAndPayOnce(t *testing.T) {
	l, _ := newTestLedger(t)

	loan, err := l.CreateLoan(CreateLoanInput{UserID: "u12", BranchID: "b1", Amount: 3_000_000, WeeklyPayment: 500_000, StartDate: "2024-04-01"})
	require.NoError(t, err)
	assert.Equal(t, int64(6), loan.TotalWeeks)
	assert.Equal(t, int64(10), loan.InterestRate)
	assert.Equal(t, int64(3_300_000), loan.TotalAmount)
	assert.Equal(t, "2024-W14", loan.StartPeriod)

	loan, err = l.RecordPayment(loan.ID, 500_000, "2024-04-15", "2024-W15")
	require.NoError(t, err)
	assert.Equal(t, int64(2_800_000), loan.RemainingAmount)
	assert.Equal(t, int64(1), loan.PaidWeeks)
	assert.Equal(t, models.LoanStatusActive, loan.Status)
	require.Len(t, loan.Deductions, 1)

	d := loan.Deductions[0]
	assert.Equal(t, loan.ID, d.LoanID)
	assert.Equal(t, int64(500_000), d.Amount)
	assert.Equal(t, "2024-W15", d.Period)
	assert.Equal(t, "2024-04-15", d.Date)
	assert.Nil(t, d.PayrollRecordID)
}

func TestRecordPayment_PaysDownToZero(t *testing.T) {
	l, _ := newTestLedger(t)
	loan := createLoan(t, l, 1_000_000, 300_000) // total 1,100,000

	previous := loan.RemainingAmount
	payments := 0
	for loan.Status == models.LoanStatusActive {
		var err error
		loan, err = l.RecordPayment(loan.ID, 300_000, "2024-04-15", "2024-W15")
		require.NoError(t, err)
		payments++

		assert.Less(t, loan.RemainingAmount, previous, "balance must strictly decrease")
		if loan.RemainingAmount > 0 {
			assert.Equal(t, models.LoanStatusActive, loan.Status)
		} else {
			assert.Equal(t, models.LoanStatusPaid, loan.Status)
		}
		assert.Equal(t, int64(len(loan.Deductions)), loan.PaidWeeks)
		previous = loan.RemainingAmount
		require.LessOrEqual(t, payments, 10)
	}

	assert.Equal(t, 4, payments)
	assert.Equal(t, int64(0), loan.RemainingAmount)
	assert.Equal(t, models.LoanStatusPaid, loan.Status)
}

func TestRecordPayment_ExactPayoff(t *testing.T) {
	l, _ := newTestLedger(t)
	loan := createLoan(t, l, 500_000, 500_000)

	loan, err := l.RecordPayment(loan.ID, 500_000, "2024-04-15", "2024-W15")
	require.NoError(t, err)
	assert.Equal(t, int64(0), loan.RemainingAmount)
	assert.Equal(t, models.LoanStatusPaid, loan.Status)
}

func TestRecordPayment_OverpaymentAbsorbed(t *testing.T) {
	l, _ := newTestLedger(t)
	loan := createLoan(t, l, 1_000_000, 250_000)

	loan, err := l.RecordPayment(loan.ID, loan.RemainingAmount+1, "2024-04-15", "2024-W15")
	require.NoError(t, err)
	assert.Equal(t, int64(0), loan.RemainingAmount)
	assert.Equal(t, models.LoanStatusPaid, loan.Status)
	assert.Equal(t, int64(1), loan.PaidWeeks)
}

func TestRecordPayment_BlockedOnTerminalStates(t *testing.T) {
	l, s := newTestLedger(t)

	paid := createLoan(t, l, 100_000, 100_000)
	paid, err := l.RecordPayment(paid.ID, 100_000, "2024-04-15", "2024-W15")
	require.NoError(t, err)
	require.Equal(t, models.LoanStatusPaid, paid.Status)

	cancelled := createLoan(t, l, 400_000, 100_000)
	_, err = l.CancelLoan(cancelled.ID)
	require.NoError(t, err)

	for _, id := range []uuid.UUID{paid.ID, cancelled.ID} {
		before, err := s.GetLoan(id)
		require.NoError(t, err)

		_, err = l.RecordPayment(id, 10_000, "2024-04-22", "2024-W17")
		assert.ErrorIs(t, err, ErrInvalidState)

		after, err := s.GetLoan(id)
		require.NoError(t, err)
		assert.Equal(t, before, after, "refused payment must leave the loan unchanged")
	}
}

func TestRecordPayment_NotFound(t *testing.T) {
	l, _ := newTestLedger(t)

	_, err := l.RecordPayment(uuid.New(), 100, "2024-04-15", "2024-W15")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrInvalidArgument)
}

func TestRecordPayment_InvalidArguments(t *testing.T) {
	l, s := newTestLedger(t)
	loan := createLoan(t, l, 1_000_000, 250_000)

	cases := []struct {
		name   string
		amount int64
		date   string
		period string
	}{
		{"zero amount", 0, "2024-04-15", "2024-W15"},
		{"negative amount", -5, "2024-04-15", "2024-W15"},
		{"bad date", 100, "15/04/2024", "2024-W15"},
		{"empty period", 100, "2024-04-15", ""},
		{"malformed period", 100, "2024-04-15", "2024-15"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := l.RecordPayment(loan.ID, c.amount, c.date, c.period)
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}

	stored, err := s.GetLoan(loan.ID)
	require.NoError(t, err)
	assert.Equal(t, loan.TotalAmount, stored.RemainingAmount)
	assert.Empty(t, stored.Deductions)
}

func TestRecordPayment_PeriodIsNotDerivedFromDate(t *testing.T) {
	l, _ := newTestLedger(t)
	loan := createLoan(t, l, 1_000_000, 250_000)

	// A correction dated in April but attributed to an earlier payroll week.
	loan, err := l.RecordPayment(loan.ID, 250_000, "2024-04-15", "2024-W10")
	require.NoError(t, err)
	assert.Equal(t, "2024-W10", loan.Deductions[0].Period)
	assert.Equal(t, "2024-04-15", loan.Deductions[0].Date)
}

func TestRecordPayment_CountsEventsNotWeeks(t *testing.T) {
	l, _ := newTestLedger(t)
	loan := createLoan(t, l, 1_000_000, 250_000)

	_, err := l.RecordPayment(loan.ID, 100_000, "2024-04-15", "2024-W16")
	require.NoError(t, err)
	loan, err = l.RecordPayment(loan.ID, 100_000, "2024-04-16", "2024-W16")
	require.NoError(t, err)

	assert.Equal(t, int64(2), loan.PaidWeeks)
	assert.Len(t, loan.Deductions, 2)
}

func TestRecordPayment_StoreFailureAppliesNothing(t *testing.T) {
	mem := store.NewMemoryStore()
	l := NewLedger(failingStore{mem})

	loan, err := l.CreateLoan(CreateLoanInput{UserID: "u1", BranchID: "b1", Amount: 100_000, WeeklyPayment: 50_000, StartDate: "2024-04-08"})
	require.NoError(t, err)

	_, err = l.RecordPayment(loan.ID, 50_000, "2024-04-15", "2024-W15")
	require.Error(t, err)

	stored, err := mem.GetLoan(loan.ID)
	require.NoError(t, err)
	assert.Equal(t, loan.TotalAmount, stored.RemainingAmount)
	assert.Equal(t, int64(0), stored.PaidWeeks)
	assert.Empty(t, stored.Deductions)
}

func TestRecordPayrollDeduction(t *testing.T) {
	l, _ := newTestLedger(t)
	loan := createLoan(t, l, 4_000_000, 600_000)

	loan, err := l.RecordPayrollDeduction(loan.ID, "pr1", 600_000, "2024-04-15", "2024-W15")
	require.NoError(t, err)
	require.Len(t, loan.Deductions, 1)
	require.NotNil(t, loan.Deductions[0].PayrollRecordID)
	assert.Equal(t, "pr1", *loan.Deductions[0].PayrollRecordID)
	assert.Equal(t, int64(3_800_000), loan.RemainingAmount)

	_, err = l.RecordPayrollDeduction(loan.ID, " ", 600_000, "2024-04-22", "2024-W16")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestRecordPayment_ConcurrentPaymentsAreSerialized(t *testing.T) {
	l, s := newTestLedger(t)
	loan := createLoan(t, l, 5_000_000, 100_000) // total 5,500,000

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.RecordPayment(loan.ID, 10_000, "2024-04-15", "2024-W15")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stored, err := s.GetLoan(loan.ID)
	require.NoError(t, err)
	assert.Equal(t, loan.TotalAmount-workers*10_000, stored.RemainingAmount)
	assert.Equal(t, int64(workers), stored.PaidWeeks)
	assert.Len(t, stored.Deductions, workers)
	assert.Empty(t, l.locks.locks, "locks are released once idle")
}

func TestCancelLoan(t *testing.T) {
	l, _ := newTestLedger(t)
	loan := createLoan(t, l, 1_000_000, 250_000)
	loan, err := l.RecordPayment(loan.ID, 250_000, "2024-04-15", "2024-W15")
	require.NoError(t, err)

	cancelled, err := l.CancelLoan(loan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LoanStatusCancelled, cancelled.Status)
	assert.Equal(t, loan.RemainingAmount, cancelled.RemainingAmount, "balance is frozen")

	_, err = l.CancelLoan(loan.ID)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = l.CancelLoan(uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCancelLoan_PaidLoanCannotBeCancelled(t *testing.T) {
	l, _ := newTestLedger(t)
	loan := createLoan(t, l, 100_000, 100_000)
	_, err := l.RecordPayment(loan.ID, 100_000, "2024-04-15", "2024-W15")
	require.NoError(t, err)

	_, err = l.CancelLoan(loan.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestGetLoan(t *testing.T) {
	l, _ := newTestLedger(t)
	loan := createLoan(t, l, 1_000_000, 250_000)

	fetched, err := l.GetLoan(loan.ID)
	require.NoError(t, err)
	assert.Equal(t, loan.ID, fetched.ID)

	_, err = l.GetLoan(uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListLoans(t *testing.T) {
	l, _ := newTestLedger(t)

	a, err := l.CreateLoan(CreateLoanInput{UserID: "u7", BranchID: "b1", Amount: 100_000, WeeklyPayment: 50_000, StartDate: "2024-04-08"})
	require.NoError(t, err)
	b, err := l.CreateLoan(CreateLoanInput{UserID: "u9", BranchID: "b1", Amount: 100_000, WeeklyPayment: 100_000, StartDate: "2024-04-08"})
	require.NoError(t, err)
	_, err = l.CreateLoan(CreateLoanInput{UserID: "u7", BranchID: "b2", Amount: 100_000, WeeklyPayment: 50_000, StartDate: "2024-04-08"})
	require.NoError(t, err)
	_, err = l.RecordPayment(b.ID, 100_000, "2024-04-15", "2024-W15")
	require.NoError(t, err)

	all, err := l.ListLoans(models.LoanFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	branch, err := l.ListLoans(models.LoanFilter{BranchID: "b1"})
	require.NoError(t, err)
	assert.Len(t, branch, 2)

	userInBranch, err := l.ListLoans(models.LoanFilter{BranchID: "b1", UserID: "u7"})
	require.NoError(t, err)
	require.Len(t, userInBranch, 1)
	assert.Equal(t, a.ID, userInBranch[0].ID)

	paid, err := l.ListLoans(models.LoanFilter{Status: models.LoanStatusPaid})
	require.NoError(t, err)
	require.Len(t, paid, 1)
	assert.Equal(t, b.ID, paid[0].ID)

	_, err = l.ListLoans(models.LoanFilter{Status: "OVERDUE"})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestPeriodDeductions(t *testing.T) {
	l, _ := newTestLedger(t)

	b1, err := l.CreateLoan(CreateLoanInput{UserID: "u7", BranchID: "b1", Amount: 1_000_000, WeeklyPayment: 250_000, StartDate: "2024-04-08"})
	require.NoError(t, err)
	b2, err := l.CreateLoan(CreateLoanInput{UserID: "u8", BranchID: "b2", Amount: 1_000_000, WeeklyPayment: 250_000, StartDate: "2024-04-08"})
	require.NoError(t, err)

	_, err = l.RecordPayrollDeduction(b1.ID, "pr1", 250_000, "2024-04-15", "2024-W15")
	require.NoError(t, err)
	_, err = l.RecordPayrollDeduction(b2.ID, "pr2", 200_000, "2024-04-15", "2024-W15")
	require.NoError(t, err)
	_, err = l.RecordPayment(b1.ID, 250_000, "2024-04-22", "2024-W16")
	require.NoError(t, err)

	week15, err := l.PeriodDeductions("2024-W15", "")
	require.NoError(t, err)
	assert.Equal(t, "2024-W15", week15.Period)
	assert.Len(t, week15.Deductions, 2)
	assert.Equal(t, int64(450_000), week15.Total)

	branchOnly, err := l.PeriodDeductions("2024-W15", "b2")
	require.NoError(t, err)
	require.Len(t, branchOnly.Deductions, 1)
	assert.Equal(t, int64(200_000), branchOnly.Total)

	empty, err := l.PeriodDeductions("2024-W20", "")
	require.NoError(t, err)
	assert.Empty(t, empty.Deductions)
	assert.Equal(t, int64(0), empty.Total)

	_, err = l.PeriodDeductions("week 15", "")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
