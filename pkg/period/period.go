// Package period derives and parses the payroll week labels ("2024-W15")
// that loans and deductions are attributed to. Weeks follow ISO-8601: they
// start on Monday and week 1 is the week holding the year's first Thursday,
// so the label's year is the ISO year, which can differ from the calendar
// year in the first and last days of January and December.
package period

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// DateLayout is the calendar date format accepted for start and payment dates.
const DateLayout = "2006-01-02"

var ErrInvalidLabel = errors.New("invalid period label")

// Label returns the ISO week label for the calendar date of t. The time of
// day and t's location only matter insofar as they decide which date t is.
func Label(t time.Time) string {
	year, week := dateOnly(t).ISOWeek()
	return format(year, week)
}

// Current returns the label of the week containing now.
func Current(now time.Time) string {
	return Label(now)
}

// ParseDate parses a YYYY-MM-DD date as a UTC midnight.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

// LabelForDate is Label for a YYYY-MM-DD string.
func LabelForDate(s string) (string, error) {
	d, err := ParseDate(s)
	if err != nil {
		return "", err
	}
	return Label(d), nil
}

// Parse splits a label into its ISO year and week, rejecting weeks that the
// year does not have.
func Parse(label string) (year, week int, err error) {
	if len(label) != 8 || label[4] != '-' || label[5] != 'W' {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidLabel, label)
	}
	year, err = strconv.Atoi(label[:4])
	if err != nil || !allDigits(label[:4]) {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidLabel, label)
	}
	week, err = strconv.Atoi(label[6:])
	if err != nil || !allDigits(label[6:]) {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidLabel, label)
	}
	if week < 1 || week > WeeksInYear(year) {
		return 0, 0, fmt.Errorf("%w: %q has no week %d", ErrInvalidLabel, label, week)
	}
	return year, week, nil
}

// Valid reports whether label is a well-formed, existing week.
func Valid(label string) bool {
	_, _, err := Parse(label)
	return err == nil
}

// Start returns the Monday (UTC midnight) that opens the labelled week.
func Start(label string) (time.Time, error) {
	year, week, err := Parse(label)
	if err != nil {
		return time.Time{}, err
	}
	// January 4th always falls in week 1.
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	monday := jan4.AddDate(0, 0, -isoWeekday(jan4)+1)
	return monday.AddDate(0, 0, (week-1)*7), nil
}

// WeeksInYear is 52 or 53 depending on the ISO year.
func WeeksInYear(year int) int {
	// December 28th always falls in the last week.
	_, week := time.Date(year, time.December, 28, 0, 0, 0, 0, time.UTC).ISOWeek()
	return week
}

func format(year, week int) string {
	return fmt.Sprintf("%04d-W%02d", year, week)
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// isoWeekday maps Monday..Sunday to 1..7.
func isoWeekday(t time.Time) int {
	if t.Weekday() == time.Sunday {
		return 7
	}
	return int(t.Weekday())
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
