package router

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/zlovtnik/clm-ingest/pkg/models"
	"github.com/zlovtnik/clm-ingest/pkg/outcome"
	"github.com/zlovtnik/clm-ingest/pkg/sessionmgr"
)

// DefaultHandlers wires the closed event-type set to the ingestion pipeline.
// Every handler funnels into a single-batch session so routed events get the
// same validation, state-machine gating, and audit trail as bulk ingestion.
func DefaultHandlers(manager *sessionmgr.Manager, logger ectologger.Logger) map[models.EventType]Handler {
	terminated := models.ContractStatusCancelled
	return map[models.EventType]Handler{
		models.EventContractCreated:       contractHandler(manager, logger, nil),
		models.EventContractStatusChanged: contractHandler(manager, logger, nil),
		models.EventContractTerminated:    contractHandler(manager, logger, &terminated),
		models.EventCustomerCreated:       customerHandler(manager, logger),
		models.EventCustomerUpdated:       customerHandler(manager, logger),
	}
}

// contractHandler applies contract events through the pipeline. forceStatus
// overrides the asserted target status, used for termination events.
func contractHandler(manager *sessionmgr.Manager, logger ectologger.Logger, forceStatus *models.ContractStatus) Handler {
	return func(ctx context.Context, msgs []models.IntegrationMessage, partial bool) error {
		if len(msgs) == 0 {
			return nil
		}
		first := msgs[0]

		// Aggregated partials merge in arrival order, later fields win.
		merged, err := mergePayloads(msgs)
		if err != nil {
			return err
		}
		if forceStatus != nil {
			merged["target_status"] = string(*forceStatus)
		}
		if partial {
			logger.WithContext(ctx).WithFields(map[string]any{
				"code":           outcome.CodePartialAggregation,
				"correlation_id": first.CorrelationID,
				"parts":          len(msgs),
			}).Warn("Applying partial aggregate")
			merged["partial_aggregation"] = true
		}

		record, err := recordFor(merged, "contract_number")
		if err != nil {
			return err
		}

		sessionID, err := manager.Open(ctx, first.TenantID, first.SourceSystem, models.EntityKindContract, []sessionmgr.RecordInput{record})
		if err != nil {
			return err
		}
		_, err = manager.Advance(ctx, first.TenantID, sessionID)
		return err
	}
}

// customerHandler applies customer events through the pipeline.
func customerHandler(manager *sessionmgr.Manager, logger ectologger.Logger) Handler {
	return func(ctx context.Context, msgs []models.IntegrationMessage, partial bool) error {
		if len(msgs) == 0 {
			return nil
		}
		first := msgs[0]

		merged, err := mergePayloads(msgs)
		if err != nil {
			return err
		}
		if partial {
			logger.WithContext(ctx).WithFields(map[string]any{
				"code":           outcome.CodePartialAggregation,
				"correlation_id": first.CorrelationID,
				"parts":          len(msgs),
			}).Warn("Applying partial aggregate")
		}

		record, err := recordFor(merged, "customer_id")
		if err != nil {
			return err
		}

		sessionID, err := manager.Open(ctx, first.TenantID, first.SourceSystem, models.EntityKindCustomer, []sessionmgr.RecordInput{record})
		if err != nil {
			return err
		}
		_, err = manager.Advance(ctx, first.TenantID, sessionID)
		return err
	}
}

func mergePayloads(msgs []models.IntegrationMessage) (map[string]any, error) {
	merged := map[string]any{}
	for i := range msgs {
		payload, err := msgs[i].PayloadMap()
		if err != nil {
			return nil, fmt.Errorf("message %d payload: %w", i, err)
		}
		for k, v := range payload {
			merged[k] = v
		}
	}
	delete(merged, "expected_parts")
	return merged, nil
}

func recordFor(fields map[string]any, keyField string) (sessionmgr.RecordInput, error) {
	naturalKey := map[string]any{}
	if v, ok := fields[keyField]; ok {
		naturalKey[keyField] = v
	}

	keyJSON, err := json.Marshal(naturalKey)
	if err != nil {
		return sessionmgr.RecordInput{}, err
	}
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return sessionmgr.RecordInput{}, err
	}
	return sessionmgr.RecordInput{NaturalKey: keyJSON, Fields: fieldsJSON}, nil
}
