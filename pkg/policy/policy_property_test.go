//go:build property
// +build property

package policy_test

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/Mindburn-Labs/uapk-gateway/pkg/manifest"
	"github.com/Mindburn-Labs/uapk-gateway/pkg/policy"
)

// Property: daily budget count never exceeds cap at a commit
// point. Modeled directly against the engine's read-only threshold check;
// hard enforcement under concurrency is pkg/budget's reserve(), exercised
// separately.
func TestBudgetNeverExceedsCapAtEvaluationTime(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("a count at or above cap is always denied, never allowed", prop.ForAll(
		func(count, cap int) bool {
			if cap <= 0 {
				cap = 1
			}
			count = count % (cap*2 + 1)
			if count < 0 {
				count = -count
			}

			m := &manifest.Manifest{
				Status:     manifest.StatusActive,
				Tools:      map[string]manifest.Tool{"noop": {Connector: "mock"}},
				Constraints: manifest.Constraints{DailyBudgetCap: cap},
			}
			e := policy.New(nil, nil, stubCount(count))
			res := e.Evaluate(policy.Request{
				Action: policy.Action{Type: "noop", Tool: "noop", Params: map[string]interface{}{}},
			}, m)

			if count >= cap {
				return res.Decision == policy.Deny
			}
			return res.Decision != policy.Deny
		},
		gen.IntRange(0, 1000),
		gen.IntRange(1, 100),
	))

	properties.TestingRun(t)
}

type stubCount int

func (s stubCount) Count(string, string, time.Time) (int, error) { return int(s), nil }
