// Package manifest models the per-tenant policy and tool registry that
// governs one logical agent, and the store that loads it. The stored
// manifest body is opaque JSON; NormalizePolicy maps known legacy and canonical
// field spellings onto the structured types below without mutating the
// stored row.
package manifest

import "encoding/json"

// Status is a manifest's lifecycle state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusArchived Status = "archived"
)

// Manifest is the per-tenant policy and tool registry selected for one
// evaluation. Exactly the newest active row for a (tenant, manifest_id) is
// selected at evaluation time; older active rows may exist for history.
type Manifest struct {
	Tenant        string          `json:"tenant"`
	ManifestID    string          `json:"manifest_id"`
	Status        Status          `json:"status"`
	SchemaVersion string          `json:"schema_version,omitempty"`
	Policy        Policy          `json:"policy"`
	Tools         map[string]Tool `json:"tools"`
	Constraints   Constraints     `json:"constraints,omitempty"`
	CreatedAt     int64           `json:"created_at"`
}

// Policy is the normalized §4.1 rule set. Fields are read-only views over
// whatever spelling the stored manifest used.
type Policy struct {
	RequireCapabilityToken bool     `json:"require_capability_token,omitempty"`
	AllowedActionTypes     []string `json:"allowed_action_types,omitempty"`
	AllowedTools           []string `json:"allowed_tools,omitempty"`
	DeniedTools            []string `json:"denied_tools,omitempty"`

	ApprovalThresholds ApprovalThresholds `json:"approval_thresholds,omitempty"`
	AmountCaps         AmountCaps         `json:"amount_caps,omitempty"`

	AllowedJurisdictions []string           `json:"allowed_jurisdictions,omitempty"`
	Counterparty         CounterpartyPolicy `json:"counterparty,omitempty"`
}

// ApprovalThresholds names action types, tools, or an amount that force a
// provisional escalation even absent a hard denial (§4.1 stage 9).
type ApprovalThresholds struct {
	ActionTypes []string `json:"action_types,omitempty"`
	Tools       []string `json:"tools,omitempty"`
	Amount      *float64 `json:"amount,omitempty"`
}

// AmountCaps governs §4.1 stage 10. ParamPaths and CurrencyField default
// to ["amount","value","total"] and "currency" respectively when empty.
type AmountCaps struct {
	MaxAmount     *float64           `json:"max_amount,omitempty"`
	PerCurrency   map[string]float64 `json:"per_currency,omitempty"`
	ParamPaths    []string           `json:"param_paths,omitempty"`
	CurrencyField string             `json:"currency_field,omitempty"`
	EscalateAbove *float64           `json:"escalate_above,omitempty"`
}

func (a AmountCaps) Empty() bool {
	return a.MaxAmount == nil && len(a.PerCurrency) == 0 && a.EscalateAbove == nil
}

// CounterpartyPolicy is keyed on counterparty.id. An empty allowlist means
// all counterparties are allowed; the denylist always wins.
type CounterpartyPolicy struct {
	Allowlist []string `json:"allowlist,omitempty"`
	Denylist  []string `json:"denylist,omitempty"`
}

func (c CounterpartyPolicy) Empty() bool {
	return len(c.Allowlist) == 0 && len(c.Denylist) == 0
}

// Constraints carries manifest-level budget configuration (§4.4).
type Constraints struct {
	DailyBudgetCap          int `json:"daily_budget_cap,omitempty"`
	BudgetEscalateAtPercent int `json:"budget_escalate_at_percent,omitempty"`
}

// Tool is one entry in the manifest's tool registry, naming the connector
// that executes it and that connector's configuration (§4.6).
type Tool struct {
	Connector      string            `json:"connector"`
	URL            string            `json:"url,omitempty"`
	Method         string            `json:"method,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
	SecretRefs     map[string]string `json:"secret_refs,omitempty"`
	Extra          map[string]any    `json:"extra,omitempty"`

	ArgsSchema   json.RawMessage `json:"args_schema,omitempty"`
	OutputSchema json.RawMessage `json:"output_schema,omitempty"`

	// MockResult is returned verbatim by the "mock" connector type.
	MockResult json.RawMessage `json:"mock_result,omitempty"`
}

// DefaultParamPaths is the fallback dot-path list used to locate an amount
// in action.params when a manifest's amount_caps configure none.
var DefaultParamPaths = []string{"amount", "value", "total"}

// DefaultCurrencyField is the fallback dot-path used to locate a currency
// code in action.params.
const DefaultCurrencyField = "currency"
