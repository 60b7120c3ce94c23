package slack

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func sign(secret, timestamp, body string) string {
	base := fmt.Sprintf("v0:%s:%s", timestamp, body)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(base))
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

func postSigned(t *testing.T, mux *http.ServeMux, body string) *httptest.ResponseRecorder {
	t.Helper()
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/slack-webhook", strings.NewReader(body))
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", sign("secret", ts, body))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestTransport_URLVerificationHandshake(t *testing.T) {
	tr := New(Config{SigningSecret: "secret"}, &fakeAPI{}, nil)
	mux := http.NewServeMux()
	tr.Register(mux)

	body := `{"type":"url_verification","challenge":"abc123","token":"x"}`
	rec := postSigned(t, mux, body)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "abc123", rec.Body.String())
}

func TestTransport_RejectsBadSignature(t *testing.T) {
	tr := New(Config{SigningSecret: "secret"}, &fakeAPI{}, nil)
	mux := http.NewServeMux()
	tr.Register(mux)

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/slack-webhook", strings.NewReader(`{}`))
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", "v0=deadbeef")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTransport_AppMentionEmitsEvent(t *testing.T) {
	tr := New(Config{SigningSecret: "secret"}, &fakeAPI{}, nil)
	mux := http.NewServeMux()
	tr.Register(mux)

	body := `{"type":"event_callback","team_id":"T1","event":{"type":"app_mention","user":"U1","text":"hey <@BOT>","channel":"C1","ts":"1710000000.000100"}}`
	rec := postSigned(t, mux, body)
	require.Equal(t, http.StatusOK, rec.Code)

	select {
	case ev := <-tr.Events():
		require.Equal(t, "U1", ev.Author)
		require.Contains(t, ev.Content, "hey")
	case <-time.After(time.Second):
		t.Fatal("expected an InboundEvent")
	}
}
