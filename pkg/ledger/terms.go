package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	// DefaultMaxLoanAmount is $50,000.00 in cents.
	DefaultMaxLoanAmount int64 = 5_000_000
	// MultiWeekInterestRate is the flat percentage charged on loans repaid over more than one week.
	MultiWeekInterestRate int64 = 10
)

var hundred = decimal.NewFromInt(100)

// Terms are the derived figures of a loan before it is created.
type Terms struct {
	TotalWeeks          int64 `json:"total_weeks"`
	InterestRate        int64 `json:"interest_rate"`
	InterestAmount      int64 `json:"interest_amount"`
	TotalAmount         int64 `json:"total_amount"`
	IsMultipleWeeks     bool  `json:"is_multiple_weeks"`
	ShouldApplyInterest bool  `json:"should_apply_interest"`
}

// CalculateTerms computes a loan's schedule and cost. It has no side effects;
// CreateLoan uses it, and previews should too so both always agree.
// A nil applyInterest means interest is wanted. Single-week loans never carry
// interest whatever the flag says.
func CalculateTerms(amount, weeklyPayment int64, applyInterest *bool) (Terms, error) {
	if amount <= 0 {
		return Terms{}, fmt.Errorf("%w: amount must be positive", ErrInvalidArgument)
	}
	if weeklyPayment <= 0 {
		return Terms{}, fmt.Errorf("%w: weekly payment must be positive", ErrInvalidArgument)
	}
	if weeklyPayment > amount {
		return Terms{}, fmt.Errorf("%w: weekly payment exceeds amount", ErrInvalidArgument)
	}

	principal := decimal.NewFromInt(amount)
	totalWeeks := principal.Div(decimal.NewFromInt(weeklyPayment)).Ceil().IntPart()
	isMultipleWeeks := totalWeeks > 1
	shouldApplyInterest := (applyInterest == nil || *applyInterest) && isMultipleWeeks

	var rate int64
	if shouldApplyInterest {
		rate = MultiWeekInterestRate
	}
	// Round is half away from zero, which is half-up for positive amounts.
	interest := principal.Mul(decimal.NewFromInt(rate)).Div(hundred).Round(0).IntPart()

	return Terms{
		TotalWeeks:          totalWeeks,
		InterestRate:        rate,
		InterestAmount:      interest,
		TotalAmount:         amount + interest,
		IsMultipleWeeks:     isMultipleWeeks,
		ShouldApplyInterest: shouldApplyInterest,
	}, nil
}
