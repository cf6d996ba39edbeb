package gemini

import "github.com/insurance-ai/backoffice/internal/service"

// promptData represents the data passed to a prompt template
type promptData struct {
	Kind          string
	ReportType    string
	InstitutionID string
	Input         string
}

// requiredFields lists the keys a response document must carry per
// analysis kind. Downstream event mappers read them.
var requiredFields = map[string][]string{
	service.KindUnderwriting: {"decision", "risk_score"},
	service.KindClaims:       {"flagged"},
	service.KindActuarial:    {"benchmarked"},
	reportTemplate:           {"title"},
}
