package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Analysis kinds understood by an Analyzer. Report kinds are formed with
// ReportKind.
const (
	KindUnderwriting = "underwriting"
	KindClaims       = "claims"
	KindActuarial    = "actuarial"
	kindReportPrefix = "report."
)

// ReportKind returns the analysis kind for generating a report of reportType.
func ReportKind(reportType string) string {
	return kindReportPrefix + reportType
}

// AnalysisRequest is the input to one analysis.
type AnalysisRequest struct {
	Kind          string
	InstitutionID string
	Input         json.RawMessage
}

// Analyzer performs the domain analysis behind a work function and returns
// its result document. Implementations must be safe for concurrent use.
type Analyzer interface {
	Analyze(ctx context.Context, req AnalysisRequest) (json.RawMessage, error)
}

// AnalyzerFunc adapts a function to the Analyzer interface.
type AnalyzerFunc func(ctx context.Context, req AnalysisRequest) (json.RawMessage, error)

// Analyze calls f(ctx, req).
func (f AnalyzerFunc) Analyze(ctx context.Context, req AnalysisRequest) (json.RawMessage, error) {
	return f(ctx, req)
}

// StaticAnalyzer is a deterministic rule-based Analyzer for local runs and
// tests. Its rules are intentionally simple stand-ins for the real models.
type StaticAnalyzer struct {
	// ClaimReviewThreshold is the claim amount at or above which a claim is
	// flagged. Defaults to 10000.
	ClaimReviewThreshold float64
	// BenchmarkLossRatio is the peer loss ratio actuarial runs compare to.
	// Defaults to 0.6.
	BenchmarkLossRatio float64
}

var _ Analyzer = StaticAnalyzer{}

type underwritingInput struct {
	ApplicantID        string   `json:"applicant_id"`
	DeclaredConditions []string `json:"declared_conditions"`
}

type claimInput struct {
	ClaimID string  `json:"claim_id"`
	Amount  float64 `json:"amount"`
}

type actuarialInput struct {
	AnalysisID string   `json:"analysis_id"`
	LossRatio  *float64 `json:"loss_ratio"`
}

// Analyze implements Analyzer.
func (a StaticAnalyzer) Analyze(_ context.Context, req AnalysisRequest) (json.RawMessage, error) {
	switch {
	case req.Kind == KindUnderwriting:
		return a.underwriting(req.Input)
	case req.Kind == KindClaims:
		return a.claims(req.Input)
	case req.Kind == KindActuarial:
		return a.actuarial(req.Input)
	case strings.HasPrefix(req.Kind, kindReportPrefix):
		return a.report(strings.TrimPrefix(req.Kind, kindReportPrefix), req)
	default:
		return nil, fmt.Errorf("%w: unknown analysis kind %q", ErrInvalidInput, req.Kind)
	}
}

func (a StaticAnalyzer) underwriting(raw json.RawMessage) (json.RawMessage, error) {
	var in underwritingInput
	if err := decodeInput(raw, &in); err != nil {
		return nil, err
	}
	if in.ApplicantID == "" {
		return nil, fmt.Errorf("%w: applicant_id is required", ErrInvalidInput)
	}

	score := math.Min(1, 0.2+0.15*float64(len(in.DeclaredConditions)))
	score = math.Round(score*100) / 100
	decision := "approved"
	switch {
	case score >= 0.8:
		decision = "declined"
	case score >= 0.5:
		decision = "referred"
	}
	return json.Marshal(map[string]any{
		"applicant_id": in.ApplicantID,
		"decision":     decision,
		"risk_score":   score,
		"factors":      map[string]any{"declared_conditions": len(in.DeclaredConditions)},
	})
}

func (a StaticAnalyzer) claims(raw json.RawMessage) (json.RawMessage, error) {
	var in claimInput
	if err := decodeInput(raw, &in); err != nil {
		return nil, err
	}
	if in.ClaimID == "" {
		return nil, fmt.Errorf("%w: claim_id is required", ErrInvalidInput)
	}

	threshold := a.ClaimReviewThreshold
	if threshold <= 0 {
		threshold = 10000
	}
	if in.Amount >= threshold {
		return json.Marshal(map[string]any{
			"claim_id":    in.ClaimID,
			"flagged":     true,
			"flag_reason": fmt.Sprintf("amount %.2f at or above review threshold %.2f", in.Amount, threshold),
			"severity":    "high",
		})
	}
	return json.Marshal(map[string]any{
		"claim_id": in.ClaimID,
		"flagged":  false,
		"status":   "auto_approved",
	})
}

func (a StaticAnalyzer) actuarial(raw json.RawMessage) (json.RawMessage, error) {
	var in actuarialInput
	if err := decodeInput(raw, &in); err != nil {
		return nil, err
	}
	if in.AnalysisID == "" {
		return nil, fmt.Errorf("%w: analysis_id is required", ErrInvalidInput)
	}
	if in.LossRatio == nil {
		// Nothing to compare against.
		return json.Marshal(map[string]any{"analysis_id": in.AnalysisID, "benchmarked": false})
	}

	peer := a.BenchmarkLossRatio
	if peer <= 0 {
		peer = 0.6
	}
	return json.Marshal(map[string]any{
		"analysis_id": in.AnalysisID,
		"benchmarked": true,
		"benchmark_results": map[string]any{
			"loss_ratio":      *in.LossRatio,
			"peer_loss_ratio": peer,
			"variance":        math.Round((*in.LossRatio-peer)*10000) / 10000,
		},
	})
}

func (a StaticAnalyzer) report(reportType string, req AnalysisRequest) (json.RawMessage, error) {
	var data map[string]any
	if err := decodeInput(req.Input, &data); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{
		"title":          fmt.Sprintf("%s report", reportType),
		"institution_id": req.InstitutionID,
		"sections":       len(data),
		"data":           data,
	})
}

func decodeInput(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}
