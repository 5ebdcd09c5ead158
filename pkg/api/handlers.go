package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Mindburn-Labs/uapk-gateway/pkg/gateway"
	"github.com/Mindburn-Labs/uapk-gateway/pkg/policy"
)

const maxRequestBytes = 1 << 20 // 1MB

// GatewayAPI exposes the orchestrator's Evaluate/Execute/approval surface
// over HTTP.
type GatewayAPI struct {
	Orchestrator *gateway.Orchestrator

	// TenantRateLimiter, if set, caps /v1/evaluate and /v1/execute calls
	// per tenant rather than per source IP. Unlike the IP-based limiter
	// wired into the router, this must run inside the handler: the
	// tenant a request belongs to isn't known until its body is decoded.
	TenantRateLimiter *GlobalRateLimiter
}

// NewGatewayAPI wires an HTTP surface on top of an already-configured
// orchestrator.
func NewGatewayAPI(o *gateway.Orchestrator) *GatewayAPI {
	return &GatewayAPI{Orchestrator: o}
}

// allowTenant reports whether a decoded request's tenant has budget left
// in the per-tenant rate limiter, writing a 429 and returning false if
// not. A nil TenantRateLimiter always allows.
func (a *GatewayAPI) allowTenant(w http.ResponseWriter, tenant string) bool {
	if a.TenantRateLimiter == nil {
		return true
	}
	if !a.TenantRateLimiter.Allow(tenant) {
		WriteTooManyRequests(w, 5)
		return false
	}
	return true
}

// actionRequestBody is the wire shape collaborators POST to /evaluate and
// /execute.
type actionRequestBody struct {
	Tenant          string                 `json:"tenant"`
	ManifestID      string                 `json:"manifest_id"`
	AgentID         string                 `json:"agent_id"`
	Action          policy.Action          `json:"action"`
	Counterparty    *policy.Counterparty   `json:"counterparty,omitempty"`
	Context         map[string]interface{} `json:"context,omitempty"`
	CapabilityToken string                 `json:"capability_token,omitempty"`
	OverrideToken   string                 `json:"override_token,omitempty"`
}

func (b actionRequestBody) toRequest() gateway.Request {
	return gateway.Request{
		Tenant:          b.Tenant,
		ManifestID:      b.ManifestID,
		AgentID:         b.AgentID,
		Action:          b.Action,
		Counterparty:    b.Counterparty,
		Context:         b.Context,
		CapabilityToken: b.CapabilityToken,
		OverrideToken:   b.OverrideToken,
	}
}

func decodeActionRequest(w http.ResponseWriter, r *http.Request) (gateway.Request, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	var body actionRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteBadRequest(w, "invalid request body")
		return gateway.Request{}, false
	}
	if body.Tenant == "" || body.ManifestID == "" || body.Action.Tool == "" {
		WriteBadRequest(w, "missing required fields: tenant, manifest_id, action.tool")
		return gateway.Request{}, false
	}
	return body.toRequest(), true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// HandleEvaluate handles POST /v1/evaluate: run the Policy Engine and
// record the decision without executing anything.
func (a *GatewayAPI) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	req, ok := decodeActionRequest(w, r)
	if !ok {
		return
	}
	if !a.allowTenant(w, req.Tenant) {
		return
	}
	resp, err := a.Orchestrator.Evaluate(r.Context(), req)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleExecute handles POST /v1/execute: run the Policy Engine and, if
// the decision allows it, invoke the connector. Collaborators should
// attach an Idempotency-Key header — see IdempotencyMiddleware — since a
// network retry must not cause a second real side effect.
func (a *GatewayAPI) HandleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	req, ok := decodeActionRequest(w, r)
	if !ok {
		return
	}
	if !a.allowTenant(w, req.Tenant) {
		return
	}
	resp, err := a.Orchestrator.Execute(r.Context(), req)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type approvalActionBody struct {
	Tenant     string `json:"tenant"`
	ApprovalID string `json:"approval_id"`
	Approver   string `json:"approver"`
}

func decodeApprovalAction(w http.ResponseWriter, r *http.Request) (approvalActionBody, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	var body approvalActionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteBadRequest(w, "invalid request body")
		return approvalActionBody{}, false
	}
	if body.Tenant == "" || body.ApprovalID == "" || body.Approver == "" {
		WriteBadRequest(w, "missing required fields: tenant, approval_id, approver")
		return approvalActionBody{}, false
	}
	return body, true
}

// HandleApprove handles POST /v1/approvals/approve.
func (a *GatewayAPI) HandleApprove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	body, ok := decodeApprovalAction(w, r)
	if !ok {
		return
	}
	if err := a.Orchestrator.Approve(r.Context(), body.Tenant, body.ApprovalID, body.Approver); err != nil {
		WriteInternal(w, err)
		return
	}

	token, err := a.Orchestrator.IssueOverrideToken(r.Context(), body.Tenant, body.ApprovalID)
	if err != nil {
		if errors.Is(err, gateway.ErrApprovalNotApproved) {
			WriteConflict(w, err.Error())
			return
		}
		WriteInternal(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":         "approved",
		"approval_id":    body.ApprovalID,
		"override_token": token,
	})
}

// HandleDeny handles POST /v1/approvals/deny.
func (a *GatewayAPI) HandleDeny(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	body, ok := decodeApprovalAction(w, r)
	if !ok {
		return
	}
	if err := a.Orchestrator.Deny(r.Context(), body.Tenant, body.ApprovalID, body.Approver); err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "denied", "approval_id": body.ApprovalID})
}
