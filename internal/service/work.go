package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/insurance-ai/backoffice/internal/domain"
	"github.com/insurance-ai/backoffice/internal/events"
	"github.com/insurance-ai/backoffice/internal/task"
)

// Work holds the work functions of every task type.
type Work struct {
	analyzer Analyzer
	reports  *ReportService
	logger   *slog.Logger
}

// NewWork creates the work functions. reports may be nil when report tasks
// are not served by this process.
func NewWork(analyzer Analyzer, reports *ReportService, logger *slog.Logger) (*Work, error) {
	if analyzer == nil {
		return nil, &ServiceError{Operation: "create_work", Message: "analyzer cannot be nil"}
	}
	if logger == nil {
		return nil, &ServiceError{Operation: "create_work", Message: "logger cannot be nil"}
	}
	return &Work{
		analyzer: analyzer,
		reports:  reports,
		logger:   logger.With("component", "work"),
	}, nil
}

type registration struct {
	t      task.Type
	work   task.WorkFunc
	mapper task.EventMapper
}

// Register adds every task type this Work serves to reg.
func (w *Work) Register(reg *task.Registry) error {
	regs := []registration{
		{task.TypeUnderwriting, w.analyze(KindUnderwriting), UnderwritingEvent},
		{task.TypeClaims, w.analyze(KindClaims), ClaimsEvent},
		{task.TypeActuarial, w.analyze(KindActuarial), ActuarialEvent},
	}
	if w.reports != nil {
		regs = append(regs, registration{task.TypeReport, w.reports.Generate, nil})
	}

	for _, r := range regs {
		if err := reg.Register(r.t, r.work, r.mapper); err != nil {
			return fmt.Errorf("failed to register %s work: %w", r.t, err)
		}
	}
	return nil
}

// analyze returns a work function that hands the payload to the analyzer.
func (w *Work) analyze(kind string) task.WorkFunc {
	return func(ctx context.Context, tc task.TaskContext, payload json.RawMessage) (json.RawMessage, error) {
		w.logger.InfoContext(ctx, "starting analysis",
			"task_id", tc.TaskID,
			"kind", kind,
			"institution_id", tc.InstitutionID)

		result, err := w.analyzer.Analyze(ctx, AnalysisRequest{
			Kind:          kind,
			InstitutionID: tc.InstitutionID,
			Input:         payload,
		})
		if err != nil {
			return nil, err
		}
		return result, nil
	}
}

// fields decodes a JSON object. Empty input and null decode to an empty map.
func fields(raw json.RawMessage) (map[string]any, error) {
	m := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("expected a JSON object: %w", err)
		}
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

// eventFields decodes the payload and result a mapper works from.
func eventFields(payload, result json.RawMessage) (in, res map[string]any, err error) {
	if res, err = fields(result); err != nil {
		return nil, nil, fmt.Errorf("invalid task result: %w", err)
	}
	if in, err = fields(payload); err != nil {
		return nil, nil, fmt.Errorf("invalid task payload: %w", err)
	}
	return in, res, nil
}

// UnderwritingEvent publishes underwriting.completed for results that carry
// no error.
func UnderwritingEvent(tc task.TaskContext, payload, result json.RawMessage) (*events.Event, error) {
	in, res, err := eventFields(payload, result)
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, nil
	}
	if _, failed := res["error"]; failed {
		return nil, nil
	}
	return events.NewEvent(events.TypeUnderwritingCompleted, tc.InstitutionID, map[string]any{
		"application_id": in["applicant_id"],
		"decision":       res["decision"],
		"risk_score":     res["risk_score"],
	})
}

// ClaimsEvent publishes claims.flagged for flagged claims.
func ClaimsEvent(tc task.TaskContext, payload, result json.RawMessage) (*events.Event, error) {
	in, res, err := eventFields(payload, result)
	if err != nil {
		return nil, err
	}
	if flagged, _ := res["flagged"].(bool); !flagged {
		return nil, nil
	}
	severity, ok := res["severity"]
	if !ok || severity == nil {
		severity = domain.DefaultFlagSeverity
	}
	return events.NewEvent(events.TypeClaimsFlagged, tc.InstitutionID, map[string]any{
		"claim_id":    in["claim_id"],
		"flag_reason": res["flag_reason"],
		"severity":    severity,
	})
}

// ActuarialEvent publishes actuarial.benchmarked when benchmarking ran.
func ActuarialEvent(tc task.TaskContext, payload, result json.RawMessage) (*events.Event, error) {
	in, res, err := eventFields(payload, result)
	if err != nil {
		return nil, err
	}
	if benchmarked, _ := res["benchmarked"].(bool); !benchmarked {
		return nil, nil
	}
	benchmarks, ok := res["benchmark_results"]
	if !ok || benchmarks == nil {
		benchmarks = map[string]any{}
	}
	return events.NewEvent(events.TypeActuarialBenchmarked, tc.InstitutionID, map[string]any{
		"analysis_id":       in["analysis_id"],
		"benchmark_results": benchmarks,
	})
}
