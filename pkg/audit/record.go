// Package audit implements the tamper-evident, per-(tenant, manifest_id)
// hash chain of interaction records: one entry per Policy Engine decision,
// signed with the gateway's Ed25519 key and linked to the previous entry
// in the same chain by its record hash.
package audit

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/uapk-gateway/pkg/canonicalize"
	"github.com/Mindburn-Labs/uapk-gateway/pkg/signing"
)

func base64Sig(sig []byte) string {
	return base64.StdEncoding.EncodeToString(sig)
}

// DecisionOutcome is the record's persisted verdict. It mirrors the
// Policy Engine's decision but is named independently since a record can
// also represent a still-pending escalation.
type DecisionOutcome string

const (
	DecisionApproved DecisionOutcome = "approved"
	DecisionDenied   DecisionOutcome = "denied"
	DecisionPending  DecisionOutcome = "pending"
)

// Record is a single chain element: a full accounting of one Evaluate or
// Execute decision, hash-chained to the previous record for the same
// (tenant, manifest_id) pair and signed with the gateway key.
type Record struct {
	RecordID   string `json:"record_id"`
	Tenant     string `json:"tenant"`
	ManifestID string `json:"manifest_id"`
	AgentID    string `json:"agent_id"`
	ActionType string `json:"action_type"`
	Tool       string `json:"tool"`

	Request     interface{} `json:"request"`
	RequestHash string      `json:"request_hash"`

	Decision DecisionOutcome `json:"decision"`

	ReasonsJSON     string `json:"reasons_json"`
	PolicyTraceJSON string `json:"policy_trace_json"`
	RiskSnapshotJSON string `json:"risk_snapshot_json"`

	Result     interface{} `json:"result,omitempty"`
	ResultHash *string     `json:"result_hash,omitempty"`
	DurationMs *int64      `json:"duration_ms,omitempty"`

	PreviousRecordHash *string `json:"previous_record_hash"`
	RecordHash         string  `json:"record_hash"`
	GatewaySignature   string  `json:"gateway_signature"`

	CreatedAt time.Time `json:"created_at"`
}

// RequestView is the subset of an incoming request that is hashed into
// request_hash. It deliberately excludes the raw capability token.
type RequestView struct {
	ManifestID             string      `json:"manifest_id"`
	AgentID                string      `json:"agent_id"`
	Action                 interface{} `json:"action"`
	Counterparty           interface{} `json:"counterparty"`
	Context                interface{} `json:"context"`
	CapabilityTokenProvided bool       `json:"capability_token_provided"`
}

// BuildInput collects everything needed to construct and sign a Record.
// ResultHash/Result/DurationMs are left zero for evaluate-only decisions.
type BuildInput struct {
	RecordID           string
	Tenant             string
	ManifestID         string
	AgentID            string
	ActionType         string
	Tool               string
	Request            RequestView
	Decision           DecisionOutcome
	Reasons            interface{}
	PolicyTrace        interface{}
	RiskSnapshot       interface{}
	Result             interface{}
	DurationMs         *int64
	PreviousRecordHash *string
	CreatedAt          time.Time
}

// Build computes request_hash, result_hash, the three canonical JSON
// blobs, record_hash, and the gateway signature, returning a fully
// populated Record ready to append.
func Build(in BuildInput, signer signing.Signer) (Record, error) {
	requestHash, err := canonicalize.Hash(in.Request)
	if err != nil {
		return Record{}, fmt.Errorf("audit: hash request: %w", err)
	}

	reasonsJSON, err := canonicalize.String(in.Reasons)
	if err != nil {
		return Record{}, fmt.Errorf("audit: canonicalize reasons: %w", err)
	}
	traceJSON, err := canonicalize.String(in.PolicyTrace)
	if err != nil {
		return Record{}, fmt.Errorf("audit: canonicalize policy trace: %w", err)
	}
	riskJSON, err := canonicalize.String(in.RiskSnapshot)
	if err != nil {
		return Record{}, fmt.Errorf("audit: canonicalize risk snapshot: %w", err)
	}

	var resultHash *string
	if in.Result != nil {
		h, err := canonicalize.Hash(in.Result)
		if err != nil {
			return Record{}, fmt.Errorf("audit: hash result: %w", err)
		}
		resultHash = &h
	}

	rec := Record{
		RecordID:           in.RecordID,
		Tenant:              in.Tenant,
		ManifestID:          in.ManifestID,
		AgentID:             in.AgentID,
		ActionType:          in.ActionType,
		Tool:                in.Tool,
		Request:             in.Request,
		RequestHash:         requestHash,
		Decision:            in.Decision,
		ReasonsJSON:         reasonsJSON,
		PolicyTraceJSON:     traceJSON,
		RiskSnapshotJSON:    riskJSON,
		Result:              in.Result,
		ResultHash:          resultHash,
		DurationMs:          in.DurationMs,
		PreviousRecordHash:  in.PreviousRecordHash,
		CreatedAt:           in.CreatedAt,
	}

	recordHash, err := computeRecordHash(rec)
	if err != nil {
		return Record{}, err
	}
	rec.RecordHash = recordHash
	rec.GatewaySignature = base64Sig(signer.Sign([]byte(recordHash)))

	return rec, nil
}

// hashableRecord is the exact field set record_hash is computed over, per
// the content-bearing-fields rule: recomputation must reproduce it
// byte-for-byte given only these fields, not the raw request/result.
type hashableRecord struct {
	RecordID           string  `json:"record_id"`
	Tenant             string  `json:"tenant"`
	ManifestID         string  `json:"manifest_id"`
	AgentID            string  `json:"agent_id"`
	ActionType         string  `json:"action_type"`
	Tool               string  `json:"tool"`
	RequestHash        string  `json:"request_hash"`
	Decision           string  `json:"decision"`
	ReasonsJSON        string  `json:"reasons_json"`
	PolicyTraceJSON    string  `json:"policy_trace_json"`
	ResultHash         *string `json:"result_hash"`
	PreviousRecordHash *string `json:"previous_record_hash"`
	CreatedAt          string  `json:"created_at"`
}

func computeRecordHash(rec Record) (string, error) {
	h := hashableRecord{
		RecordID:           rec.RecordID,
		Tenant:             rec.Tenant,
		ManifestID:         rec.ManifestID,
		AgentID:            rec.AgentID,
		ActionType:         rec.ActionType,
		Tool:               rec.Tool,
		RequestHash:        rec.RequestHash,
		Decision:           string(rec.Decision),
		ReasonsJSON:        rec.ReasonsJSON,
		PolicyTraceJSON:    rec.PolicyTraceJSON,
		ResultHash:         rec.ResultHash,
		PreviousRecordHash: rec.PreviousRecordHash,
		CreatedAt:          rec.CreatedAt.UTC().Format(time.RFC3339),
	}
	return canonicalize.Hash(h)
}
