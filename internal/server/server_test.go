package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JamesElliotDesign/trakr/internal/helius"
)

type fakeSink struct {
	mu     sync.Mutex
	events [][]helius.EnhancedTransaction
}

func (f *fakeSink) HandleEvent(txs []helius.EnhancedTransaction) {
	f.mu.Lock()
	f.events = append(f.events, txs)
	f.mu.Unlock()
}

type fakeRefresher struct {
	tracked []string
	err     error
}

func (f *fakeRefresher) Refresh(_ context.Context) ([]string, error) {
	return f.tracked, f.err
}

func newTestServer(sink *fakeSink, refresher *fakeRefresher, secret string) http.Handler {
	return New(sink, refresher, SharedSecretAuth(secret), map[string]func() any{
		"answer": func() any { return 42 },
	}).Handler()
}

func TestWebhook_AcceptsArrayPayload(t *testing.T) {
	sink := &fakeSink{}
	h := newTestServer(sink, &fakeRefresher{}, "")

	body := `[{"signature":"S1","tokenTransfers":[{"mint":"M","toUserAccount":"W","tokenAmount":5}]}]`
	req := httptest.NewRequest("POST", "/helius-webhook", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
	require.Len(t, sink.events, 1)
	require.Len(t, sink.events[0], 1)
	assert.Equal(t, "S1", sink.events[0][0].Signature)
}

func TestWebhook_AcceptsSingleObjectPayload(t *testing.T) {
	sink := &fakeSink{}
	h := newTestServer(sink, &fakeRefresher{}, "")

	req := httptest.NewRequest("POST", "/helius-webhook", strings.NewReader(`{"signature":"S2"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, sink.events, 1)
	assert.Equal(t, "S2", sink.events[0][0].Signature)
}

func TestWebhook_RejectsBadAuth(t *testing.T) {
	sink := &fakeSink{}
	h := newTestServer(sink, &fakeRefresher{}, "shh")

	req := httptest.NewRequest("POST", "/helius-webhook", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "wrong")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, sink.events)
}

func TestWebhook_AcceptsSharedSecret(t *testing.T) {
	sink := &fakeSink{}
	h := newTestServer(sink, &fakeRefresher{}, "shh")

	req := httptest.NewRequest("POST", "/helius-webhook", strings.NewReader(`{"signature":"S3"}`))
	req.Header.Set("Authorization", "shh")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, sink.events, 1)
}

func TestWebhook_UnparseablePayloadIs500(t *testing.T) {
	h := newTestServer(&fakeSink{}, &fakeRefresher{}, "")

	req := httptest.NewRequest("POST", "/helius-webhook", strings.NewReader(`not json`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWebhook_GetNotAllowed(t *testing.T) {
	h := newTestServer(&fakeSink{}, &fakeRefresher{}, "")

	req := httptest.NewRequest("GET", "/helius-webhook", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAdminRefresh(t *testing.T) {
	h := newTestServer(&fakeSink{}, &fakeRefresher{tracked: []string{"W1", "W2"}}, "")

	req := httptest.NewRequest("POST", "/admin/refresh-wallets", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		OK      bool     `json:"ok"`
		Tracked []string `json:"tracked"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.True(t, out.OK)
	assert.Equal(t, []string{"W1", "W2"}, out.Tracked)
}

func TestHealth(t *testing.T) {
	h := newTestServer(&fakeSink{}, &fakeRefresher{}, "")

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
}

func TestStats(t *testing.T) {
	h := newTestServer(&fakeSink{}, &fakeRefresher{}, "")

	req := httptest.NewRequest("GET", "/stats", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"answer":42}`, rec.Body.String())
}
