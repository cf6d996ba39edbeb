package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/insurance-ai/backoffice/internal/domain"
	"github.com/insurance-ai/backoffice/internal/store"
	"github.com/insurance-ai/backoffice/internal/task"
)

// ReportGenerator produces the content of one report type.
type ReportGenerator interface {
	Generate(ctx context.Context, institutionID string, data json.RawMessage) (json.RawMessage, error)
}

// ReportGeneratorFunc adapts a function to the ReportGenerator interface.
type ReportGeneratorFunc func(ctx context.Context, institutionID string, data json.RawMessage) (json.RawMessage, error)

// Generate calls f(ctx, institutionID, data).
func (f ReportGeneratorFunc) Generate(ctx context.Context, institutionID string, data json.RawMessage) (json.RawMessage, error) {
	return f(ctx, institutionID, data)
}

// ReportRegistry maps report types to generators. It is filled at startup.
type ReportRegistry struct {
	mu         sync.RWMutex
	generators map[domain.ReportType]ReportGenerator
}

// NewReportRegistry creates an empty ReportRegistry.
func NewReportRegistry() *ReportRegistry {
	return &ReportRegistry{generators: make(map[domain.ReportType]ReportGenerator)}
}

// NewAnalyzerReportRegistry registers an analyzer-backed generator for each
// of the given report types.
func NewAnalyzerReportRegistry(analyzer Analyzer, types ...domain.ReportType) (*ReportRegistry, error) {
	r := NewReportRegistry()
	for _, t := range types {
		kind := ReportKind(string(t))
		gen := ReportGeneratorFunc(func(ctx context.Context, institutionID string, data json.RawMessage) (json.RawMessage, error) {
			return analyzer.Analyze(ctx, AnalysisRequest{Kind: kind, InstitutionID: institutionID, Input: data})
		})
		if err := r.Register(t, gen); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds the generator for t.
func (r *ReportRegistry) Register(t domain.ReportType, gen ReportGenerator) error {
	if t == "" {
		return domain.ErrEmptyReportType
	}
	if gen == nil {
		return fmt.Errorf("report generator for %s is nil", t)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.generators[t]; ok {
		return fmt.Errorf("report type %s is already registered", t)
	}
	r.generators[t] = gen
	return nil
}

// Lookup returns the generator for t.
func (r *ReportRegistry) Lookup(t domain.ReportType) (ReportGenerator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	gen, ok := r.generators[t]
	return gen, ok
}

// Types returns the registered report types in sorted order.
func (r *ReportRegistry) Types() []domain.ReportType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]domain.ReportType, 0, len(r.generators))
	for t := range r.generators {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// ReportRequest is the payload of a report task.
type ReportRequest struct {
	ReportType domain.ReportType `json:"report_type"`
	Data       json.RawMessage   `json:"data,omitempty"`
}

// ReportResult is the result document of a report task.
type ReportResult struct {
	ReportID   string            `json:"report_id"`
	ReportType domain.ReportType `json:"report_type"`
	Content    json.RawMessage   `json:"content"`
}

// ReportService is the work function of report tasks.
type ReportService struct {
	registry *ReportRegistry
	reports  store.ReportStore
	tasks    task.Store
	logger   *slog.Logger
}

// NewReportService creates a new ReportService.
func NewReportService(
	registry *ReportRegistry,
	reports store.ReportStore,
	tasks task.Store,
	logger *slog.Logger,
) (*ReportService, error) {
	if registry == nil || reports == nil || tasks == nil {
		return nil, &ServiceError{Operation: "create_report_service", Message: "registry and stores are required"}
	}
	return &ReportService{
		registry: registry,
		reports:  reports,
		tasks:    tasks,
		logger:   logger.With("component", "report_service"),
	}, nil
}

// Generate runs the generator for the requested type, stores the report
// and links it to the task.
func (s *ReportService) Generate(ctx context.Context, tc task.TaskContext, payload json.RawMessage) (json.RawMessage, error) {
	var req ReportRequest
	if err := decodeInput(payload, &req); err != nil {
		return nil, err
	}
	gen, ok := s.registry.Lookup(req.ReportType)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedReportType, req.ReportType)
	}

	content, err := gen.Generate(ctx, tc.InstitutionID, req.Data)
	if err != nil {
		return nil, NewServiceError("generate_report", "generator failed", err)
	}

	report, err := domain.NewReport(req.ReportType, content, tc.InstitutionID, tc.TaskID)
	if err != nil {
		return nil, NewServiceError("generate_report", "invalid report", err)
	}
	if err := s.reports.Create(ctx, report); err != nil {
		return nil, NewServiceError("generate_report", "failed to save report", err)
	}
	if _, err := s.tasks.Update(ctx, tc.TaskID, task.Update{ReportID: report.ReportID}); err != nil {
		return nil, NewServiceError("generate_report", "failed to link report to task", err)
	}

	s.logger.InfoContext(ctx, "report generated",
		"task_id", tc.TaskID,
		"report_id", report.ReportID,
		"report_type", report.Type)

	return json.Marshal(ReportResult{
		ReportID:   report.ReportID,
		ReportType: report.Type,
		Content:    report.Content,
	})
}
