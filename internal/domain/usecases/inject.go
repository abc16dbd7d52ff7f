// Package usecases contains application business rules.
// Usecases orchestrate entities and depend on port interfaces only.
package usecases

import (
	"strings"

	"github.com/0xcro3dile/workmind-go/internal/domain/entities"
)

// NotSpecified fills every slot whose source field is missing or blank.
const NotSpecified = "Not specified"

// SlotSetVersion must match the version declared by the instruction template.
// Bump it whenever a slot is added, renamed or removed.
const SlotSetVersion = "1"

type slotSource func(p *entities.BusinessProfile, dc *entities.DepartmentConfig, department string) any

type slotDef struct {
	name   string
	source slotSource
}

func field(get func(p *entities.BusinessProfile) any) slotSource {
	return func(p *entities.BusinessProfile, _ *entities.DepartmentConfig, _ string) any {
		if p == nil {
			return nil
		}
		return get(p)
	}
}

func deptField(get func(dc *entities.DepartmentConfig) string) slotSource {
	return func(_ *entities.BusinessProfile, dc *entities.DepartmentConfig, _ string) any {
		if dc == nil {
			return nil
		}
		return get(dc)
	}
}

// slotTable is the recognized slot set, in template order.
var slotTable = []slotDef{
	// Department
	{"department_name", func(_ *entities.BusinessProfile, _ *entities.DepartmentConfig, d string) any { return d }},
	{"priority", deptField(func(dc *entities.DepartmentConfig) string { return dc.Priority })},
	{"outcomes_90d", deptField(func(dc *entities.DepartmentConfig) string { return dc.NinetyDayOutcome })},
	{"core_tasks", deptField(func(dc *entities.DepartmentConfig) string { return dc.CoreTasks })},
	{"approval_boundaries", deptField(func(dc *entities.DepartmentConfig) string { return dc.ApprovalBoundaries })},
	{"inputs_outputs", deptField(func(dc *entities.DepartmentConfig) string { return dc.InputsOutputs })},
	{"data_access", deptField(func(dc *entities.DepartmentConfig) string { return dc.DataAccess })},

	// Business
	{"business_name", field(func(p *entities.BusinessProfile) any { return p.BusinessName })},
	{"website", field(func(p *entities.BusinessProfile) any { return p.Website })},
	{"industry", field(func(p *entities.BusinessProfile) any { return p.Industry })},
	{"sub_sector", field(func(p *entities.BusinessProfile) any { return p.SubSector })},
	{"business_model", field(func(p *entities.BusinessProfile) any { return p.BusinessModel })},
	{"stage", field(func(p *entities.BusinessProfile) any { return p.Stage })},
	{"countries_served", field(func(p *entities.BusinessProfile) any { return p.CountriesServed })},
	{"founders_roles", field(func(p *entities.BusinessProfile) any { return p.FoundersRoles })},
	{"hq_location", field(func(p *entities.BusinessProfile) any { return p.HQLocation })},

	// Offer
	{"main_offer", field(func(p *entities.BusinessProfile) any { return p.MainOffer })},
	{"icp", field(func(p *entities.BusinessProfile) any { return p.ICP })},
	{"main_pain", field(func(p *entities.BusinessProfile) any { return p.MainPain })},
	{"promise", field(func(p *entities.BusinessProfile) any { return p.Promise })},
	{"competitors", field(func(p *entities.BusinessProfile) any { return p.Competitors })},
	{"key_objections", field(func(p *entities.BusinessProfile) any { return p.KeyObjections })},
	{"usp", field(func(p *entities.BusinessProfile) any { return p.USP })},

	// Economics
	{"revenue_streams", field(func(p *entities.BusinessProfile) any { return p.RevenueStreams })},
	{"pricing_model", field(func(p *entities.BusinessProfile) any { return p.PricingModel })},
	{"price_points", field(func(p *entities.BusinessProfile) any { return p.PricePoints })},
	{"sales_cycle", field(func(p *entities.BusinessProfile) any { return p.SalesCycle })},
	{"revenue_target_90d", field(func(p *entities.BusinessProfile) any { return p.RevenueTarget90d })},
	{"revenue_target_12m", field(func(p *entities.BusinessProfile) any { return p.RevenueTarget12m })},

	// Operations
	{"lead_sources", field(func(p *entities.BusinessProfile) any { return p.LeadSources })},
	{"sales_mechanism", field(func(p *entities.BusinessProfile) any { return p.SalesMechanism })},
	{"crm_tool", field(func(p *entities.BusinessProfile) any { return p.CRMTool })},
	{"close_rate", field(func(p *entities.BusinessProfile) any { return p.CloseRate })},
	{"delivery_process", field(func(p *entities.BusinessProfile) any { return p.DeliveryProcess })},
	{"tool_stack", field(func(p *entities.BusinessProfile) any { return p.ToolStack })},
	{"broken_workflows", field(func(p *entities.BusinessProfile) any { return p.BrokenWorkflows })},
	{"team_structure", field(func(p *entities.BusinessProfile) any { return p.TeamStructure })},
	{"decision_approver", field(func(p *entities.BusinessProfile) any { return p.DecisionApprover })},
	{"restricted_policies", field(func(p *entities.BusinessProfile) any { return p.RestrictedPolicies })},

	// Compliance
	{"is_regulated", field(func(p *entities.BusinessProfile) any { return p.IsRegulated })},
	{"regulatory_requirements", field(func(p *entities.BusinessProfile) any { return p.RegulatoryDetails })},
	{"sensitive_data", field(func(p *entities.BusinessProfile) any { return p.SensitiveData })},
	{"hard_constraints", field(func(p *entities.BusinessProfile) any { return p.HardConstraints })},
	{"must_avoid", field(func(p *entities.BusinessProfile) any { return p.MustAvoid })},

	// Tone
	{"brand_tone", field(func(p *entities.BusinessProfile) any { return p.BrandTone })},
	{"interaction_style", field(func(p *entities.BusinessProfile) any { return p.InteractionStyle })},
	{"deliverables", field(func(p *entities.BusinessProfile) any { return p.Deliverables })},
	{"output_format", field(func(p *entities.BusinessProfile) any { return p.OutputFormat })},
}

// ContextInjector renders a business profile into the fixed slot set.
type ContextInjector struct{}

// NewContextInjector creates a ContextInjector.
func NewContextInjector() *ContextInjector {
	return &ContextInjector{}
}

// Slots returns the recognized slot names in table order.
func (ci *ContextInjector) Slots() []string {
	names := make([]string, len(slotTable))
	for i, s := range slotTable {
		names[i] = s.name
	}
	return names
}

// Inject resolves every recognized slot. It never fails and never omits a slot.
func (ci *ContextInjector) Inject(profile *entities.BusinessProfile, department string) map[string]string {
	var dc *entities.DepartmentConfig
	if cfg, ok := profile.Department(department); ok {
		dc = &cfg
	}

	out := make(map[string]string, len(slotTable))
	for _, s := range slotTable {
		out[s.name] = render(s.source(profile, dc, department))
	}
	return out
}

// render stringifies a slot value; blank values become NotSpecified.
func render(v any) string {
	var s string
	switch val := v.(type) {
	case string:
		s = strings.TrimSpace(val)
	case []string:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			if item = strings.TrimSpace(item); item != "" {
				parts = append(parts, item)
			}
		}
		s = strings.Join(parts, ", ")
	}
	if s == "" {
		return NotSpecified
	}
	return neutralizeBraces(s)
}

// neutralizeBraces keeps tenant text from forming a placeholder, either on
// its own or against the template text and slots around it.
func neutralizeBraces(s string) string {
	for strings.Contains(s, "{{") {
		s = strings.ReplaceAll(s, "{{", "{ {")
	}
	for strings.Contains(s, "}}") {
		s = strings.ReplaceAll(s, "}}", "} }")
	}
	if s == "" {
		return s
	}
	if isBrace(s[0]) {
		s = " " + s
	}
	if isBrace(s[len(s)-1]) {
		s += " "
	}
	return s
}

func isBrace(b byte) bool { return b == '{' || b == '}' }
