package utils

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendSSEEvent(t *testing.T) {
	rec := httptest.NewRecorder()
	SetupSSEHeaders(rec)

	require.NoError(t, SendSSEEvent(rec, rec, "message", map[string]string{"reply": "Oi."}))
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "event: message\ndata: {\"reply\":\"Oi.\"}\n\n", rec.Body.String())
	assert.True(t, rec.Flushed)
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	var dst struct {
		User string `json:"user"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"user":"ana","admin":true}`))
	assert.Error(t, DecodeJSON(req, &dst))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"user":"ana"}`))
	require.NoError(t, DecodeJSON(req, &dst))
	assert.Equal(t, "ana", dst.User)
}

func TestRespondError(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, http.StatusBadRequest, "bad")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"bad"}`, rec.Body.String())
}
