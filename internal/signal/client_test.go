package signal

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baro-gochi/counselor-assist-core/internal/commons"
	"github.com/baro-gochi/counselor-assist-core/internal/errs"
	"github.com/baro-gochi/counselor-assist-core/internal/wire"
)

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestAuthenticate_AcceptsValidToken(t *testing.T) {
	token := signToken(t, "secret", Claims{
		AgentCode:       "A-1",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	})

	claims, err := Authenticate(token, "secret")
	require.NoError(t, err)
	assert.Equal(t, "A-1", claims.AgentCode)
}

func TestAuthenticate_RejectsWrongSecret(t *testing.T) {
	token := signToken(t, "secret", Claims{AgentCode: "A-1"})
	_, err := Authenticate(token, "wrong-secret")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Auth))
}

func TestAuthenticate_RejectsExpiredToken(t *testing.T) {
	token := signToken(t, "secret", Claims{
		AgentCode:       "A-1",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))},
	})
	_, err := Authenticate(token, "secret")
	assert.Error(t, err)
}

func newTestClient() *Client {
	return &Client{
		logger: commons.New(commons.WithDevelopment()),
		out:    make(chan wire.Envelope, outboundQueueLimit),
		doneCh: make(chan struct{}),
	}
}

func TestSend_EnqueuesUpToLimit(t *testing.T) {
	c := newTestClient()
	for i := 0; i < outboundQueueLimit; i++ {
		require.NoError(t, c.Send(wire.Envelope{Type: wire.TypeAgentUpdate}))
	}
	assert.Len(t, c.out, outboundQueueLimit)
}

func TestSend_DropsOldestOnOverrun(t *testing.T) {
	c := newTestClient()
	for i := 0; i < outboundQueueLimit; i++ {
		turnID := "queued"
		if i == 0 {
			turnID = "first"
		}
		require.NoError(t, c.Send(wire.Envelope{Type: wire.TypeAgentUpdate, TurnID: turnID}))
	}

	err := c.Send(wire.Envelope{Type: wire.TypeAgentUpdate, TurnID: "overflow"})
	require.NoError(t, err, "an overrun drops the oldest message rather than failing the send")

	first := <-c.out
	assert.NotEqual(t, "first", first.TurnID, "the oldest queued envelope must have been evicted")
}

func TestDecodeData_RejectsMalformedJSON(t *testing.T) {
	type payload struct {
		Room string `json:"room" validate:"required"`
	}
	env := wire.Envelope{Type: "join", Data: json.RawMessage(`{not json`)}
	var dst payload
	err := DecodeData(env, &dst)
	assert.Error(t, err)
}

func TestDecodeData_RejectsMissingRequiredField(t *testing.T) {
	type payload struct {
		Room string `json:"room" validate:"required"`
	}
	env := wire.Envelope{Type: "join", Data: json.RawMessage(`{}`)}
	var dst payload
	err := DecodeData(env, &dst)
	assert.Error(t, err)
}

func TestDecodeData_AcceptsValidPayload(t *testing.T) {
	type payload struct {
		Room string `json:"room" validate:"required"`
	}
	env := wire.Envelope{Type: "join", Data: json.RawMessage(`{"room":"room-1"}`)}
	var dst payload
	require.NoError(t, DecodeData(env, &dst))
	assert.Equal(t, "room-1", dst.Room)
}

func TestClose_IsIdempotent(t *testing.T) {
	c := newTestClient()
	// Close dereferences conn.Close() on the first call; mark it
	// already-closed to exercise only the idempotency guard without a
	// real connection.
	c.closed = true
	assert.NoError(t, c.Close())
}
