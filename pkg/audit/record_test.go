package audit_test

import (
	"testing"
	"time"

	"github.com/Mindburn-Labs/uapk-gateway/pkg/audit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_ProducesVerifiableRecord(t *testing.T) {
	signer := testSigner(t)
	in := audit.BuildInput{
		RecordID:   "rec-1",
		Tenant:     "tenant-1",
		ManifestID: "manifest-1",
		AgentID:    "agent-1",
		ActionType: "tool_call",
		Tool:       "http_request",
		Request: audit.RequestView{
			ManifestID: "manifest-1",
			AgentID:    "agent-1",
			Action:     map[string]interface{}{"url": "https://example.com"},
		},
		Decision:    audit.DecisionApproved,
		Reasons:     []string{"within_budget"},
		PolicyTrace: map[string]interface{}{"stage": "amount_caps"},
		CreatedAt:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	rec, err := audit.Build(in, signer)
	require.NoError(t, err)

	assert.NotEmpty(t, rec.RequestHash)
	assert.NotEmpty(t, rec.RecordHash)
	assert.NotEmpty(t, rec.GatewaySignature)
	assert.Nil(t, rec.PreviousRecordHash)

	err = audit.VerifyChain([]audit.Record{rec}, signer.PublicKey())
	assert.NoError(t, err)
}

func TestBuild_RecordHashExcludesRiskSnapshot(t *testing.T) {
	signer := testSigner(t)
	base := audit.BuildInput{
		RecordID:   "rec-1",
		Tenant:     "tenant-1",
		ManifestID: "manifest-1",
		Decision:   audit.DecisionApproved,
		CreatedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	withoutRisk := base
	withoutRisk.RiskSnapshot = nil
	recA, err := audit.Build(withoutRisk, signer)
	require.NoError(t, err)

	withRisk := base
	withRisk.RiskSnapshot = map[string]interface{}{"score": 0.9}
	recB, err := audit.Build(withRisk, signer)
	require.NoError(t, err)

	assert.NotEqual(t, recA.RiskSnapshotJSON, recB.RiskSnapshotJSON)
	assert.Equal(t, recA.RecordHash, recB.RecordHash)
}

func TestVerifyChain_DetectsTamperedRecordHash(t *testing.T) {
	signer := testSigner(t)
	rec, err := audit.Build(audit.BuildInput{
		RecordID:   "rec-1",
		Tenant:     "tenant-1",
		ManifestID: "manifest-1",
		Decision:   audit.DecisionApproved,
		CreatedAt:  time.Now(),
	}, signer)
	require.NoError(t, err)

	rec.ActionType = "tampered"

	err = audit.VerifyChain([]audit.Record{rec}, signer.PublicKey())
	require.Error(t, err)

	var verr *audit.VerifyError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Failures, 1)
	assert.Equal(t, audit.FailureRecordHashMismatch, verr.Failures[0].Kind)
}

func TestVerifyChain_DetectsInvalidSignature(t *testing.T) {
	signer := testSigner(t)
	other := testSigner(t)
	rec, err := audit.Build(audit.BuildInput{
		RecordID:   "rec-1",
		Tenant:     "tenant-1",
		ManifestID: "manifest-1",
		Decision:   audit.DecisionApproved,
		CreatedAt:  time.Now(),
	}, signer)
	require.NoError(t, err)

	err = audit.VerifyChain([]audit.Record{rec}, other.PublicKey())
	require.Error(t, err)

	var verr *audit.VerifyError
	require.ErrorAs(t, err, &verr)
	found := false
	for _, f := range verr.Failures {
		if f.Kind == audit.FailureSignatureInvalid {
			found = true
		}
	}
	assert.True(t, found)
}

func TestVerifyChain_DetectsBrokenPreviousHashLinkage(t *testing.T) {
	signer := testSigner(t)
	first, err := audit.Build(audit.BuildInput{
		RecordID:   "rec-1",
		Tenant:     "tenant-1",
		ManifestID: "manifest-1",
		Decision:   audit.DecisionApproved,
		CreatedAt:  time.Now(),
	}, signer)
	require.NoError(t, err)

	bogus := "not-the-real-previous-hash"
	second, err := audit.Build(audit.BuildInput{
		RecordID:           "rec-2",
		Tenant:              "tenant-1",
		ManifestID:          "manifest-1",
		Decision:            audit.DecisionApproved,
		PreviousRecordHash:  &bogus,
		CreatedAt:           time.Now(),
	}, signer)
	require.NoError(t, err)

	err = audit.VerifyChain([]audit.Record{first, second}, signer.PublicKey())
	require.Error(t, err)

	var verr *audit.VerifyError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, audit.FailurePreviousHashMismatch, verr.Failures[0].Kind)
	assert.Equal(t, 1, verr.Failures[0].Index)
}

func TestVerifyChain_ValidChainHasNoFailures(t *testing.T) {
	signer := testSigner(t)
	first, err := audit.Build(audit.BuildInput{
		RecordID:   "rec-1",
		Tenant:     "tenant-1",
		ManifestID: "manifest-1",
		Decision:   audit.DecisionApproved,
		CreatedAt:  time.Now(),
	}, signer)
	require.NoError(t, err)

	prevHash := first.RecordHash
	second, err := audit.Build(audit.BuildInput{
		RecordID:           "rec-2",
		Tenant:              "tenant-1",
		ManifestID:          "manifest-1",
		Decision:            audit.DecisionApproved,
		PreviousRecordHash:  &prevHash,
		CreatedAt:           time.Now(),
	}, signer)
	require.NoError(t, err)

	err = audit.VerifyChain([]audit.Record{first, second}, signer.PublicKey())
	assert.NoError(t, err)
}
