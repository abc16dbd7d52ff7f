// Package entities contains core business entities.
// These are pure domain objects with no knowledge of storage, transport or the model backend.
package entities

import (
	"strings"
	"time"
)

// ScopeKind tells whether a knowledge layer applies to every department or to one.
type ScopeKind string

const (
	ScopeGlobal     ScopeKind = "global"
	ScopeDepartment ScopeKind = "department"
)

// Scope identifies who a knowledge layer governs.
type Scope struct {
	Kind       ScopeKind `yaml:"kind" json:"kind"`
	Department string    `yaml:"department,omitempty" json:"department,omitempty"`
}

// Applies reports whether the scope covers the given department.
func (s Scope) Applies(department string) bool {
	if s.Kind == ScopeGlobal {
		return true
	}
	return s.Kind == ScopeDepartment && strings.EqualFold(s.Department, department)
}

// KnowledgeLayer is a block of governance text merged into every compiled instruction.
// Precedence is an authority rank: 1 is the highest authority.
type KnowledgeLayer struct {
	ID         string `yaml:"id" json:"id"`
	Precedence int    `yaml:"precedence" json:"precedence"`
	Scope      Scope  `yaml:"scope" json:"scope"`
	Body       string `yaml:"body" json:"body"`
}

// DepartmentConfig is the per-department section of the intake.
type DepartmentConfig struct {
	Department         string `yaml:"department" json:"department"`
	Priority           string `yaml:"priority" json:"priority"`
	NinetyDayOutcome   string `yaml:"ninety_day_outcome" json:"ninety_day_outcome"`
	CoreTasks          string `yaml:"core_tasks" json:"core_tasks"`
	ApprovalBoundaries string `yaml:"approval_boundaries" json:"approval_boundaries"`
	InputsOutputs      string `yaml:"inputs_outputs" json:"inputs_outputs"`
	DataAccess         string `yaml:"data_access" json:"data_access"`
}

// BusinessProfile is the intake snapshot of one workspace.
type BusinessProfile struct {
	WorkspaceID string `yaml:"workspace_id" json:"workspace_id"`

	// Business snapshot
	BusinessName    string   `yaml:"business_name" json:"business_name"`
	Website         string   `yaml:"website" json:"website"`
	Industry        string   `yaml:"industry" json:"industry"`
	SubSector       string   `yaml:"sub_sector" json:"sub_sector"`
	BusinessModel   string   `yaml:"business_model" json:"business_model"`
	Stage           string   `yaml:"stage" json:"stage"`
	CountriesServed []string `yaml:"countries_served" json:"countries_served"`
	HQLocation      string   `yaml:"hq_location" json:"hq_location"`
	FoundersRoles   string   `yaml:"founders_roles" json:"founders_roles"`

	// Offer, customer and promise
	MainOffer     string   `yaml:"main_offer" json:"main_offer"`
	ICP           string   `yaml:"icp" json:"icp"`
	MainPain      string   `yaml:"main_pain" json:"main_pain"`
	Promise       string   `yaml:"promise" json:"promise"`
	Competitors   []string `yaml:"competitors" json:"competitors"`
	KeyObjections string   `yaml:"key_objections" json:"key_objections"`
	USP           string   `yaml:"usp" json:"usp"`

	// Revenue and unit economics
	RevenueStreams   string `yaml:"revenue_streams" json:"revenue_streams"`
	PricingModel     string `yaml:"pricing_model" json:"pricing_model"`
	PricePoints      string `yaml:"price_points" json:"price_points"`
	SalesCycle       string `yaml:"sales_cycle" json:"sales_cycle"`
	RevenueTarget90d string `yaml:"revenue_target_90d" json:"revenue_target_90d"`
	RevenueTarget12m string `yaml:"revenue_target_12m" json:"revenue_target_12m"`

	// Sales and lead generation
	LeadSources    []string `yaml:"lead_sources" json:"lead_sources"`
	SalesMechanism string   `yaml:"sales_mechanism" json:"sales_mechanism"`
	CRMTool        string   `yaml:"crm_tool" json:"crm_tool"`
	CloseRate      string   `yaml:"close_rate" json:"close_rate"`

	// Operations and delivery
	DeliveryProcess  string   `yaml:"delivery_process" json:"delivery_process"`
	ToolStack        []string `yaml:"tool_stack" json:"tool_stack"`
	BrokenWorkflows  string   `yaml:"broken_workflows" json:"broken_workflows"`
	TeamStructure    string   `yaml:"team_structure" json:"team_structure"`
	DecisionApprover string   `yaml:"decision_approver" json:"decision_approver"`

	// Compliance and risk
	IsRegulated        string `yaml:"is_regulated" json:"is_regulated"`
	RegulatoryDetails  string `yaml:"regulatory_details" json:"regulatory_details"`
	SensitiveData      string `yaml:"sensitive_data" json:"sensitive_data"`
	RestrictedPolicies string `yaml:"restricted_policies" json:"restricted_policies"`

	// Departments
	SelectedDepartments []string                    `yaml:"selected_departments" json:"selected_departments"`
	DepartmentConfigs   map[string]DepartmentConfig `yaml:"department_configs" json:"department_configs"`

	// Tone, brand and output
	BrandTone        string   `yaml:"brand_tone" json:"brand_tone"`
	InteractionStyle string   `yaml:"interaction_style" json:"interaction_style"`
	Deliverables     []string `yaml:"deliverables" json:"deliverables"`
	OutputFormat     string   `yaml:"output_format" json:"output_format"`

	// Constraints
	HardConstraints string `yaml:"hard_constraints" json:"hard_constraints"`
	MustAvoid       string `yaml:"must_avoid" json:"must_avoid"`
}

// Department returns the config for a department, matched case-insensitively.
func (p *BusinessProfile) Department(name string) (DepartmentConfig, bool) {
	if p == nil {
		return DepartmentConfig{}, false
	}
	if dc, ok := p.DepartmentConfigs[name]; ok {
		return dc, true
	}
	for key, dc := range p.DepartmentConfigs {
		if strings.EqualFold(key, name) {
			return dc, true
		}
	}
	return DepartmentConfig{}, false
}

// AddDepartment records a department config. Departments are never removed.
func (p *BusinessProfile) AddDepartment(dc DepartmentConfig) {
	if p.DepartmentConfigs == nil {
		p.DepartmentConfigs = make(map[string]DepartmentConfig)
	}
	p.DepartmentConfigs[dc.Department] = dc
	for _, d := range p.SelectedDepartments {
		if strings.EqualFold(d, dc.Department) {
			return
		}
	}
	p.SelectedDepartments = append(p.SelectedDepartments, dc.Department)
}

// Clone returns a deep copy so a turn can work on a stable snapshot.
func (p *BusinessProfile) Clone() *BusinessProfile {
	if p == nil {
		return nil
	}
	c := *p
	c.CountriesServed = cloneStrings(p.CountriesServed)
	c.Competitors = cloneStrings(p.Competitors)
	c.LeadSources = cloneStrings(p.LeadSources)
	c.ToolStack = cloneStrings(p.ToolStack)
	c.SelectedDepartments = cloneStrings(p.SelectedDepartments)
	c.Deliverables = cloneStrings(p.Deliverables)
	if p.DepartmentConfigs != nil {
		c.DepartmentConfigs = make(map[string]DepartmentConfig, len(p.DepartmentConfigs))
		for k, v := range p.DepartmentConfigs {
			c.DepartmentConfigs[k] = v
		}
	}
	return &c
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// MimeCategory is the coarse content class of an evidence document.
type MimeCategory string

const (
	MimeText  MimeCategory = "text"
	MimeImage MimeCategory = "image"
	MimePDF   MimeCategory = "pdf"
)

// IsBinary reports whether documents of this category travel as opaque payloads.
func (m MimeCategory) IsBinary() bool {
	return m == MimeImage || m == MimePDF
}

// EvidenceDocument is an uploaded file owned by one department's knowledge pool.
// Text documents carry Content; image and PDF documents carry Data.
type EvidenceDocument struct {
	ID           string       `json:"id"`
	Department   string       `json:"department"`
	Name         string       `json:"name"`
	MimeType     string       `json:"mime_type"`
	MimeCategory MimeCategory `json:"mime_category"`
	Content      string       `json:"content,omitempty"`
	Data         []byte       `json:"data,omitempty"`
	Pinned       bool         `json:"pinned"`
	UploadedAt   time.Time    `json:"uploaded_at"`
}

// Role is the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// TurnKind separates substantive turns from recorded failures.
type TurnKind string

const (
	TurnMessage TurnKind = "message"
	TurnError   TurnKind = "error"
)

// EscalationVerdict flags a response that needs human approval.
type EscalationVerdict struct {
	Required bool   `json:"required"`
	Reason   string `json:"reason,omitempty"`
	Approver string `json:"approver,omitempty"`
}

// ConversationTurn is one entry of a thread. Seq is the ledger position and
// the only ordering guarantee; Timestamp is informational.
type ConversationTurn struct {
	ID         string             `json:"id"`
	Seq        int64              `json:"seq"`
	Role       Role               `json:"role"`
	Kind       TurnKind           `json:"kind"`
	Content    string             `json:"content"`
	Timestamp  time.Time          `json:"timestamp"`
	Escalation *EscalationVerdict `json:"escalation,omitempty"`
}

// ThreadKey addresses one conversation.
type ThreadKey struct {
	Department string
	Thread     string
}

func (k ThreadKey) String() string {
	return k.Department + "/" + k.Thread
}

// InstructionTemplate is the master instruction with {{slot}} placeholders.
// Version must match the slot set the injector recognizes.
type InstructionTemplate struct {
	Version string `yaml:"version" json:"version"`
	Body    string `yaml:"body" json:"body"`
}

// Governance is the template plus the layers that apply to one department.
type Governance struct {
	// Department is the corpus spelling of the requested department.
	Department string
	Template   InstructionTemplate
	Layers     []KnowledgeLayer
}

// CompiledInstruction is the governing instruction for one backend call.
type CompiledInstruction struct {
	Department string
	Text       string
	LayerIDs   []string
}

// ManifestEntry lists one document handed to the backend.
type ManifestEntry struct {
	DocumentID string
	Name       string
	MimeType   string
	Truncated  bool
}

// BinaryAttachment is an image or PDF sent as a payload next to its textual reference.
type BinaryAttachment struct {
	DocumentID string
	Name       string
	MimeType   string
	Data       []byte
	Reference  string
}

// EvidenceBundle is the bounded grounding material for one turn.
type EvidenceBundle struct {
	Department        string
	Text              string
	Attachments       []BinaryAttachment
	Manifest          []ManifestEntry
	History           []ConversationTurn
	HistoryTruncated  bool
	EvidenceTruncated bool
}
