//go:build property
// +build property

package audit_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/Mindburn-Labs/uapk-gateway/pkg/audit"
	"github.com/Mindburn-Labs/uapk-gateway/pkg/signing"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: a chain built entirely through sequential Build+Append calls,
// each linked to the previous record's hash, always verifies clean.
func TestChainBuiltSequentiallyAlwaysVerifies(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("sequential chain verifies", prop.ForAll(
		func(length int) bool {
			signer, err := signing.GenerateKeyPair()
			if err != nil {
				return false
			}
			store := audit.NewMemoryStore()
			ctx := context.Background()

			var prevHash *string
			for i := 0; i < length; i++ {
				rec, err := audit.Build(audit.BuildInput{
					RecordID:           "rec-" + strconv.Itoa(i),
					Tenant:              "tenant-1",
					ManifestID:          "manifest-1",
					Decision:            audit.DecisionApproved,
					PreviousRecordHash:  prevHash,
					CreatedAt:           time.Now(),
				}, signer)
				if err != nil {
					return false
				}
				if err := store.Append(ctx, rec); err != nil {
					return false
				}
				h := rec.RecordHash
				prevHash = &h
			}

			chain, err := store.Chain(ctx, "tenant-1", "manifest-1")
			if err != nil {
				return false
			}
			return audit.VerifyChain(chain, signer.PublicKey()) == nil
		},
		gen.IntRange(0, 25),
	))

	properties.TestingRun(t)
}
