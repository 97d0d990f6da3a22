// Package outcome carries per-record validation and conflict outcomes as
// values. Expected failures never travel as errors; each record is either
// fully valid or carries exactly one coded failure.
package outcome

import (
	"fmt"
)

// Failure codes for validation outcomes.
const (
	CodeFieldRequired         = "FIELD_REQUIRED"
	CodeFieldInvalid          = "FIELD_INVALID"
	CodeTaxIDInvalid          = "TAXID_INVALID"
	CodeContractNumberInvalid = "CONTRACT_NUMBER_INVALID"
	CodeCustomerRefInvalid    = "CUSTOMER_REF_INVALID"
	CodeIllegalTransition     = "ILLEGAL_TRANSITION"
	CodeTransformError        = "TRANSFORM_ERROR"
)

// Failure codes for promotion-time conflicts.
const (
	CodePromotionRejected  = "PROMOTION_REJECTED"
	CodeDuplicateInSession = "DUPLICATE_IN_SESSION"
)

// Failure codes for routing outcomes.
const (
	CodeUnroutableMessage  = "UNROUTABLE_MESSAGE"
	CodePartialAggregation = "PARTIAL_AGGREGATION"
)

// Failure is one coded, human-readable outcome. Field is empty for
// record-level failures.
type Failure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// Failf builds a failure with a formatted message.
func Failf(code string, format string, args ...any) *Failure {
	return &Failure{Code: code, Message: fmt.Sprintf(format, args...)}
}

// OnField returns a copy of the failure naming the offending field.
func (f *Failure) OnField(field string) *Failure {
	if f == nil {
		return nil
	}
	copied := *f
	copied.Field = field
	return &copied
}

func (f *Failure) String() string {
	if f == nil {
		return "ok"
	}
	if f.Field != "" {
		return fmt.Sprintf("%s: field '%s': %s", f.Code, f.Field, f.Message)
	}
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

// Step is one validation step. A nil return means the step passed.
type Step func() *Failure

// First applies steps in order and returns the first failure, if any.
// This is the short-circuit composition the transform stage is built on.
func First(steps ...Step) *Failure {
	for _, step := range steps {
		if f := step(); f != nil {
			return f
		}
	}
	return nil
}
