package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baro-gochi/counselor-assist-core/internal/commons"
	"github.com/baro-gochi/counselor-assist-core/internal/config"
)

func testDeps() Deps {
	return Deps{
		Cfg: &config.Config{
			ICEServerURLs:             []string{"stun:stun.l.google.com:19302", "turn:turn.example.com:3478"},
			TURNCredentialsTTLSeconds: 3600,
		},
		Logger: commons.New(commons.WithDevelopment()),
	}
}

func TestHealthz_AlwaysOK(t *testing.T) {
	router := NewRouter(testDeps())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyz_ReportsLLMAvailability(t *testing.T) {
	deps := testDeps()
	router := NewRouter(deps)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["llm_available"], "with no LLM client configured, readyz must say so rather than pretend readiness")
}

func TestICEServers_VendsConfiguredURLsWithExpiry(t *testing.T) {
	router := NewRouter(testDeps())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/ice-servers", nil)
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		ICEServers []map[string]string `json:"ice_servers"`
		ExpiresAt  int64                `json:"expires_at"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.ICEServers, 2)
	assert.Equal(t, "stun:stun.l.google.com:19302", body.ICEServers[0]["urls"])
	assert.Greater(t, body.ExpiresAt, int64(0))
}
