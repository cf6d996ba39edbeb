package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/insurance-ai/backoffice/internal/domain"
	"github.com/insurance-ai/backoffice/internal/events"
	"github.com/insurance-ai/backoffice/internal/store"
)

// decisionAuthor is recorded as created_by on decisions written by handlers.
const decisionAuthor = "event_listener"

// EventHandlers updates domain records in reaction to published events.
// Every handler tolerates redelivery of the same event.
type EventHandlers struct {
	db       *sql.DB
	apps     store.ApplicationStore
	claims   store.ClaimStore
	analyses store.AnalysisStore
	logger   *slog.Logger
}

// NewEventHandlers creates the default event handlers.
func NewEventHandlers(
	db *sql.DB,
	apps store.ApplicationStore,
	claims store.ClaimStore,
	analyses store.AnalysisStore,
	logger *slog.Logger,
) (*EventHandlers, error) {
	if db == nil {
		return nil, &ServiceError{Operation: "create_event_handlers", Message: "db cannot be nil"}
	}
	if apps == nil || claims == nil || analyses == nil {
		return nil, &ServiceError{Operation: "create_event_handlers", Message: "record stores cannot be nil"}
	}
	return &EventHandlers{
		db:       db,
		apps:     apps,
		claims:   claims,
		analyses: analyses,
		logger:   logger.With("component", "event_handlers"),
	}, nil
}

// Registrar is implemented by events.Listener.
type Registrar interface {
	Register(eventType string, handler events.Handler)
}

// Register subscribes the handlers to their event types.
func (h *EventHandlers) Register(r Registrar) {
	r.Register(events.TypeUnderwritingCompleted, events.HandlerFunc(h.HandleUnderwritingCompleted))
	r.Register(events.TypeClaimsFlagged, events.HandlerFunc(h.HandleClaimsFlagged))
	r.Register(events.TypeActuarialBenchmarked, events.HandlerFunc(h.HandleActuarialBenchmarked))
}

// EventTypes returns the event types Register subscribes to.
func (h *EventHandlers) EventTypes() []string {
	return []string{
		events.TypeUnderwritingCompleted,
		events.TypeClaimsFlagged,
		events.TypeActuarialBenchmarked,
	}
}

type underwritingCompleted struct {
	ApplicationID string   `json:"application_id"`
	Decision      string   `json:"decision"`
	RiskScore     *float64 `json:"risk_score"`
}

// HandleUnderwritingCompleted marks the application completed and records
// the decision in one transaction.
func (h *EventHandlers) HandleUnderwritingCompleted(ctx context.Context, ev *events.Event) error {
	var p underwritingCompleted
	if err := ev.Bind(&p); err != nil {
		return events.Skip("malformed underwriting.completed payload: %v", err)
	}
	if p.ApplicationID == "" {
		return events.Skip("underwriting.completed without application_id")
	}

	envelope, key, err := eventKey(ev)
	if err != nil {
		return err
	}
	log := h.logger.With("event_id", key, "application_id", p.ApplicationID)

	err = store.RunInTransaction(ctx, h.db, func(ctx context.Context, tx *sql.Tx) error {
		apps := h.apps.WithTx(tx)
		if _, err := apps.GetByApplicationID(ctx, p.ApplicationID); err != nil {
			return err
		}
		if err := apps.UpdateStatus(ctx, p.ApplicationID, domain.ApplicationStatusCompleted); err != nil {
			return err
		}
		inserted, err := apps.InsertDecision(ctx, &domain.UnderwritingDecision{
			ApplicationID:   p.ApplicationID,
			EventID:         key,
			Decision:        p.Decision,
			RiskScore:       p.RiskScore,
			DecisionFactors: envelope,
			CreatedBy:       decisionAuthor,
		})
		if err != nil {
			return err
		}
		if !inserted {
			log.DebugContext(ctx, "underwriting decision already recorded")
		}
		return nil
	})
	if err != nil {
		return h.handleStoreError(ctx, log, "handle_underwriting_completed", err)
	}

	log.InfoContext(ctx, "updated application status", "decision", p.Decision)
	return nil
}

type claimsFlagged struct {
	ClaimID    string `json:"claim_id"`
	FlagReason string `json:"flag_reason"`
	Severity   string `json:"severity"`
}

// HandleClaimsFlagged marks the claim flagged and records a flagged decision.
func (h *EventHandlers) HandleClaimsFlagged(ctx context.Context, ev *events.Event) error {
	var p claimsFlagged
	if err := ev.Bind(&p); err != nil {
		return events.Skip("malformed claims.flagged payload: %v", err)
	}
	if p.ClaimID == "" {
		return events.Skip("claims.flagged without claim_id")
	}
	if p.Severity == "" {
		p.Severity = domain.DefaultFlagSeverity
	}

	_, key, err := eventKey(ev)
	if err != nil {
		return err
	}
	log := h.logger.With("event_id", key, "claim_id", p.ClaimID)

	factors, err := json.Marshal(map[string]string{
		"flag_reason": p.FlagReason,
		"severity":    p.Severity,
	})
	if err != nil {
		return err
	}

	err = store.RunInTransaction(ctx, h.db, func(ctx context.Context, tx *sql.Tx) error {
		claims := h.claims.WithTx(tx)
		if _, err := claims.GetByClaimID(ctx, p.ClaimID); err != nil {
			return err
		}
		if err := claims.UpdateStatus(ctx, p.ClaimID, domain.ClaimStatusFlagged); err != nil {
			return err
		}
		_, err := claims.InsertDecision(ctx, &domain.ClaimDecision{
			ClaimID:         p.ClaimID,
			EventID:         key,
			Decision:        domain.ClaimDecisionFlagged,
			DecisionFactors: factors,
			CreatedBy:       decisionAuthor,
		})
		return err
	})
	if err != nil {
		return h.handleStoreError(ctx, log, "handle_claims_flagged", err)
	}

	log.WarnContext(ctx, "claim flagged", "flag_reason", p.FlagReason, "severity", p.Severity)
	return nil
}

type actuarialBenchmarked struct {
	AnalysisID       string          `json:"analysis_id"`
	BenchmarkResults json.RawMessage `json:"benchmark_results"`
}

// HandleActuarialBenchmarked merges the benchmark results into the analysis.
// Reapplying the same event leaves the same results.
func (h *EventHandlers) HandleActuarialBenchmarked(ctx context.Context, ev *events.Event) error {
	var p actuarialBenchmarked
	if err := ev.Bind(&p); err != nil {
		return events.Skip("malformed actuarial.benchmarked payload: %v", err)
	}
	if p.AnalysisID == "" {
		return events.Skip("actuarial.benchmarked without analysis_id")
	}
	log := h.logger.With("event_id", ev.ID, "analysis_id", p.AnalysisID)

	err := store.RunInTransaction(ctx, h.db, func(ctx context.Context, tx *sql.Tx) error {
		analyses := h.analyses.WithTx(tx)
		analysis, err := analyses.GetByAnalysisID(ctx, p.AnalysisID)
		if err != nil {
			return err
		}
		results, err := analysis.MergeResults("benchmark_results", p.BenchmarkResults)
		if err != nil {
			return events.Skip("invalid benchmark results: %v", err)
		}
		return analyses.UpdateResults(ctx, p.AnalysisID, domain.AnalysisStatusBenchmarked, results)
	})
	if err != nil {
		return h.handleStoreError(ctx, log, "handle_actuarial_benchmarked", err)
	}

	log.InfoContext(ctx, "updated actuarial analysis")
	return nil
}

// handleStoreError turns failures that redelivery cannot fix into skips.
// Anything else is returned so the event stays pending.
func (h *EventHandlers) handleStoreError(ctx context.Context, log *slog.Logger, op string, err error) error {
	if errors.Is(err, events.ErrSkip) {
		return err
	}
	if errors.Is(err, store.ErrNotFound) {
		log.WarnContext(ctx, "record not found, skipping event", "error", err)
		return events.Skip("%v", err)
	}
	if isPermanent(err) {
		log.ErrorContext(ctx, "event rejected by store, skipping", "error", err)
		return events.Skip("%v", err)
	}
	return NewServiceError(op, "failed to apply event", err)
}

// eventKey returns the envelope of ev and the key its side effects are
// recorded under. Events without an ID are keyed by their content so a
// redelivery maps to the same key.
func eventKey(ev *events.Event) (json.RawMessage, string, error) {
	var envelope json.RawMessage
	if err := ev.Bind(&envelope); err != nil {
		return nil, "", events.Skip("malformed %s envelope: %v", ev.Type, err)
	}
	if ev.ID != "" {
		return envelope, ev.ID, nil
	}
	return envelope, uuid.NewSHA1(uuid.NameSpaceOID, envelope).String(), nil
}
