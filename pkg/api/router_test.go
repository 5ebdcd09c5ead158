package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/uapk-gateway/pkg/api"
)

func TestNewRouter_HealthAndEvaluate(t *testing.T) {
	a := testAPI(t)
	router := api.NewRouter(a, nil, api.DefaultIdempotencyStore(), nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	body, err := json.Marshal(map[string]interface{}{
		"tenant":      "tenant-1",
		"manifest_id": "refund-bot-v1",
		"agent_id":    "agent-1",
		"action": map[string]interface{}{
			"type": "payment",
			"tool": "stripe_refund",
			"params": map[string]interface{}{
				"amount":   50.0,
				"currency": "USD",
			},
		},
	})
	require.NoError(t, err)

	req2 := httptest.NewRequest(http.MethodPost, "/v1/evaluate", bytes.NewReader(body))
	w2 := httptest.NewRecorder()
	router.ServeHTTP(w2, req2)
	require.Equal(t, http.StatusOK, w2.Code)
}
