package repositories

import "fmt"

// MaxDailyOrderSequence is the largest running number that fits the six digit suffix of an order number.
const MaxDailyOrderSequence = 999999

// SequenceErrorCode classifies order sequence allocation failures.
type SequenceErrorCode string

const (
	SequenceErrorInvalidDay SequenceErrorCode = "sequence_invalid_day"
	SequenceErrorExhausted  SequenceErrorCode = "sequence_exhausted"
)

// SequenceError reports why a day's order sequence could not advance.
type SequenceError struct {
	Day  string
	Code SequenceErrorCode
	Err  error
}

func (e *SequenceError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("order sequence %s: %s: %v", e.Day, e.Code, e.Err)
	}
	return fmt.Sprintf("order sequence %s: %s", e.Day, e.Code)
}

func (e *SequenceError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
