// Package transform maps staged external records into validated domain draft
// values. Validation failures are outcomes, not errors: a record either
// produces a draft or exactly one coded failure, first failure wins.
package transform

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Gobusters/ectologger"

	"github.com/zlovtnik/clm-ingest/pkg/models"
	"github.com/zlovtnik/clm-ingest/pkg/outcome"
	"github.com/zlovtnik/clm-ingest/pkg/tracing"
)

var (
	contractNumberPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9-]{2,63}$`)
	taxIDPattern          = regexp.MustCompile(`^[0-9]{2}-?[0-9]{6,12}$`)
)

// Transformer builds validated drafts from staged records.
type Transformer struct {
	logger ectologger.Logger
}

// NewTransformer creates a new transformer
func NewTransformer(logger ectologger.Logger) *Transformer {
	return &Transformer{
		logger: logger,
	}
}

// ContractDraft validates one staged contract record. currentStatus is the
// persisted status of an existing contract with the same natural key, nil for
// a first sighting. The returned draft is a fresh value, never the staged map.
func (t *Transformer) ContractDraft(ctx context.Context, record *models.StagedRecord, currentStatus *models.ContractStatus) (draft models.ContractDraft, fail *outcome.Failure) {
	ctx, span := tracing.StartSpan(ctx, "transform.Transformer.ContractDraft")
	defer span.End()

	// A panic here means bad input the shape checks missed, not a bug worth
	// killing the session over. It becomes a per-record outcome.
	defer func() {
		if r := recover(); r != nil {
			t.logger.WithContext(ctx).WithFields(map[string]any{"session_id": record.SessionID, "sequence": record.Sequence, "panic": fmt.Sprint(r)}).Error("Transform panicked")
			draft = models.ContractDraft{}
			fail = outcome.Failf(outcome.CodeTransformError, "unexpected fault transforming record %d", record.Sequence)
		}
	}()

	fields, err := record.FieldMap()
	if err != nil {
		return models.ContractDraft{}, outcome.Failf(outcome.CodeTransformError, "staged payload is not an object: %v", err)
	}

	var contractNumber, customerRef string
	targetStatus := models.ContractStatusDraft
	statusAsserted := false

	if f := outcome.First(
		func() *outcome.Failure {
			var f *outcome.Failure
			contractNumber, f = requiredString(fields, "contract_number")
			return f
		},
		func() *outcome.Failure {
			var f *outcome.Failure
			customerRef, f = requiredRef(fields, "customer_ref")
			return f
		},
		func() *outcome.Failure {
			raw, ok := fields["target_status"]
			if !ok || raw == nil {
				return nil
			}
			s, ok := raw.(string)
			if !ok {
				return outcome.Failf(outcome.CodeFieldInvalid, "expected a string, got %T", raw).OnField("target_status")
			}
			parsed, err := models.ParseContractStatus(strings.ToUpper(s))
			if err != nil {
				return outcome.Failf(outcome.CodeFieldInvalid, "%v", err).OnField("target_status")
			}
			targetStatus = parsed
			statusAsserted = true
			return nil
		},
		func() *outcome.Failure {
			if !contractNumberPattern.MatchString(contractNumber) {
				return outcome.Failf(outcome.CodeContractNumberInvalid, "contract number %q is not in an accepted format", contractNumber).OnField("contract_number")
			}
			return nil
		},
		func() *outcome.Failure {
			// The transition gate only applies to an asserted status; a
			// record that sent none is not asking for a move.
			if currentStatus == nil || !statusAsserted {
				return nil
			}
			if !models.CanTransition(*currentStatus, targetStatus) {
				return outcome.Failf(outcome.CodeIllegalTransition, "contract cannot move from %s to %s", *currentStatus, targetStatus).OnField("target_status")
			}
			return nil
		},
	); f != nil {
		return models.ContractDraft{}, f
	}

	return models.ContractDraft{
		TenantID:       record.TenantID,
		ContractNumber: contractNumber,
		CustomerRef:    customerRef,
		Status:         targetStatus,
		StatusAsserted: statusAsserted,
	}, nil
}

// CustomerDraft validates one staged customer record.
func (t *Transformer) CustomerDraft(ctx context.Context, record *models.StagedRecord) (draft models.CustomerDraft, fail *outcome.Failure) {
	ctx, span := tracing.StartSpan(ctx, "transform.Transformer.CustomerDraft")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			t.logger.WithContext(ctx).WithFields(map[string]any{"session_id": record.SessionID, "sequence": record.Sequence, "panic": fmt.Sprint(r)}).Error("Transform panicked")
			draft = models.CustomerDraft{}
			fail = outcome.Failf(outcome.CodeTransformError, "unexpected fault transforming record %d", record.Sequence)
		}
	}()

	fields, err := record.FieldMap()
	if err != nil {
		return models.CustomerDraft{}, outcome.Failf(outcome.CodeTransformError, "staged payload is not an object: %v", err)
	}

	var customerID, name, taxID string
	var isCompany bool

	if f := outcome.First(
		func() *outcome.Failure {
			var f *outcome.Failure
			customerID, f = requiredRef(fields, "customer_id")
			return f
		},
		func() *outcome.Failure {
			var f *outcome.Failure
			name, f = requiredString(fields, "name")
			return f
		},
		func() *outcome.Failure {
			raw, ok := fields["is_company"]
			if !ok || raw == nil {
				return nil
			}
			b, ok := raw.(bool)
			if !ok {
				return outcome.Failf(outcome.CodeFieldInvalid, "expected a boolean, got %T", raw).OnField("is_company")
			}
			isCompany = b
			return nil
		},
		func() *outcome.Failure {
			raw, ok := fields["tax_id"]
			if ok && raw != nil {
				s, ok := raw.(string)
				if !ok {
					return outcome.Failf(outcome.CodeFieldInvalid, "expected a string, got %T", raw).OnField("tax_id")
				}
				taxID = strings.TrimSpace(s)
			}
			if isCompany && taxID == "" {
				return outcome.Failf(outcome.CodeFieldRequired, "company customers require a tax id").OnField("tax_id")
			}
			if taxID != "" && !taxIDPattern.MatchString(taxID) {
				return outcome.Failf(outcome.CodeTaxIDInvalid, "tax id %q is not in an accepted format", taxID).OnField("tax_id")
			}
			return nil
		},
	); f != nil {
		return models.CustomerDraft{}, f
	}

	return models.CustomerDraft{
		TenantID:   record.TenantID,
		CustomerID: customerID,
		Name:       name,
		TaxID:      taxID,
		IsCompany:  isCompany,
	}, nil
}

// requiredString extracts a required non-empty string field.
func requiredString(fields map[string]any, name string) (string, *outcome.Failure) {
	raw, ok := fields[name]
	if !ok || raw == nil {
		return "", outcome.Failf(outcome.CodeFieldRequired, "field is required").OnField(name)
	}
	s, ok := raw.(string)
	if !ok {
		return "", outcome.Failf(outcome.CodeFieldInvalid, "expected a string, got %T", raw).OnField(name)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", outcome.Failf(outcome.CodeFieldRequired, "field is required").OnField(name)
	}
	return s, nil
}

// requiredRef extracts a required reference field. External systems send
// references as strings or numbers; both normalize to a string.
func requiredRef(fields map[string]any, name string) (string, *outcome.Failure) {
	raw, ok := fields[name]
	if !ok || raw == nil {
		return "", outcome.Failf(outcome.CodeFieldRequired, "field is required").OnField(name)
	}
	switch v := raw.(type) {
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return "", outcome.Failf(outcome.CodeFieldRequired, "field is required").OnField(name)
		}
		return s, nil
	case float64:
		if v != float64(int64(v)) || v <= 0 {
			return "", outcome.Failf(outcome.CodeCustomerRefInvalid, "reference %v is not a positive integer", v).OnField(name)
		}
		return strconv.FormatInt(int64(v), 10), nil
	default:
		return "", outcome.Failf(outcome.CodeFieldInvalid, "expected a string or number, got %T", raw).OnField(name)
	}
}
