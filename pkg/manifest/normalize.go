package manifest

import (
	"encoding/json"
	"sort"
	"strings"
)

// raw is the shape a stored manifest body may arrive in: a superset of
// Policy's canonical fields plus every legacy spelling the engine must
// still accept.
type raw struct {
	RequireCapabilityToken bool     `json:"require_capability_token"`
	AllowedActionTypes     []string `json:"allowed_action_types"`

	AllowedTools []string `json:"allowed_tools"`
	DeniedTools  []string `json:"denied_tools"`
	ToolAllowlist []string `json:"tool_allowlist"`
	ToolDenylist  []string `json:"tool_denylist"`

	ApprovalThresholds ApprovalThresholds `json:"approval_thresholds"`

	AmountCaps json.RawMessage `json:"amount_caps"`

	AllowedJurisdictions  []string `json:"allowed_jurisdictions"`
	JurisdictionAllowlist []string `json:"jurisdiction_allowlist"`

	Counterparty         CounterpartyPolicy `json:"counterparty"`
	CounterpartyAllowlist []string          `json:"counterparty_allowlist"`
	CounterpartyDenylist  []string          `json:"counterparty_denylist"`
}

// NormalizePolicy maps legacy field spellings in a stored manifest's policy
// section onto the canonical Policy shape, without mutating the input.
// Canonical fields win when both a canonical and legacy spelling are
// present.
func NormalizePolicy(body []byte) (Policy, error) {
	var r raw
	if len(body) > 0 {
		if err := json.Unmarshal(body, &r); err != nil {
			return Policy{}, err
		}
	}

	p := Policy{
		RequireCapabilityToken: r.RequireCapabilityToken,
		AllowedActionTypes:     r.AllowedActionTypes,
		ApprovalThresholds:     r.ApprovalThresholds,
	}

	p.AllowedTools = firstNonEmpty(r.AllowedTools, r.ToolAllowlist)
	p.DeniedTools = firstNonEmpty(r.DeniedTools, r.ToolDenylist)
	p.AllowedJurisdictions = firstNonEmpty(r.AllowedJurisdictions, r.JurisdictionAllowlist)

	p.Counterparty = r.Counterparty
	if p.Counterparty.Empty() {
		p.Counterparty = CounterpartyPolicy{
			Allowlist: r.CounterpartyAllowlist,
			Denylist:  r.CounterpartyDenylist,
		}
	}

	caps, err := normalizeAmountCaps(r.AmountCaps)
	if err != nil {
		return Policy{}, err
	}
	p.AmountCaps = caps

	return p, nil
}

func firstNonEmpty(canonical, legacy []string) []string {
	if len(canonical) > 0 {
		return canonical
	}
	return legacy
}

// normalizeAmountCaps accepts either the canonical structured shape
// ({max_amount, per_currency, param_paths, currency_field, escalate_above})
// or a flat legacy map of currency code to cap ({"USD": 1000, "EUR": 500}),
// converting the latter to the former with max_amount set to the minimum
// across all configured per-currency values. This minimum is deliberately
// conservative: it is a fallback only consulted when a request's currency
// does not match any configured per-currency entry.
func normalizeAmountCaps(data json.RawMessage) (AmountCaps, error) {
	if len(data) == 0 {
		return AmountCaps{}, nil
	}

	var structured AmountCaps
	if err := json.Unmarshal(data, &structured); err == nil && !structured.Empty() {
		applyAmountCapDefaults(&structured)
		return structured, nil
	}

	var flat map[string]float64
	if err := json.Unmarshal(data, &flat); err != nil {
		// Neither shape matched; treat as absent rather than failing the
		// whole manifest load over one malformed optional section.
		return AmountCaps{}, nil
	}
	if len(flat) == 0 {
		return AmountCaps{}, nil
	}

	min := minOf(flat)
	caps := AmountCaps{
		MaxAmount:   &min,
		PerCurrency: flat,
	}
	applyAmountCapDefaults(&caps)
	return caps, nil
}

func applyAmountCapDefaults(caps *AmountCaps) {
	if len(caps.ParamPaths) == 0 {
		caps.ParamPaths = DefaultParamPaths
	}
	if caps.CurrencyField == "" {
		caps.CurrencyField = DefaultCurrencyField
	}
}

func minOf(values map[string]float64) float64 {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	min := values[keys[0]]
	for _, k := range keys[1:] {
		if values[k] < min {
			min = values[k]
		}
	}
	return min
}

// ExtractDotPath walks dot-separated path segments through nested
// map[string]interface{} / []interface{} values, as produced by decoding
// action.params. Returns ok == false if any segment is missing or the
// traversal hits a non-container value before the path is exhausted.
func ExtractDotPath(params map[string]interface{}, path string) (interface{}, bool) {
	if path == "" {
		return nil, false
	}
	segments := strings.Split(path, ".")

	var cur interface{} = params
	for _, seg := range segments {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		v, present := m[seg]
		if !present {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// ExtractAmount tries each path in paths in order against params, returning
// the first value that parses as a float64.
func ExtractAmount(params map[string]interface{}, paths []string) (float64, bool) {
	if len(paths) == 0 {
		paths = DefaultParamPaths
	}
	for _, p := range paths {
		v, ok := ExtractDotPath(params, p)
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			return n, true
		case json.Number:
			f, err := n.Float64()
			if err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

// ExtractCurrency fetches the currency code at field (defaulting to
// DefaultCurrencyField) from params.
func ExtractCurrency(params map[string]interface{}, field string) (string, bool) {
	if field == "" {
		field = DefaultCurrencyField
	}
	v, ok := ExtractDotPath(params, field)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
