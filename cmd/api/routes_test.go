package main

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"voice-receptionist/internal/auth"
	"voice-receptionist/internal/telephony"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func newTestRouter(t *testing.T, d routeDeps) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	registerRoutes(r, d)
	return r
}

func TestRoutes_HealthzChecksDependencies(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	mock.ExpectPing()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	r := newTestRouter(t, routeDeps{db: db, rdb: rdb})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	mr.Close()
	mock.ExpectPing()
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusServiceUnavailable || !strings.Contains(w.Body.String(), "degraded") {
		t.Fatalf("expected degraded, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRoutes_MetricsExposed(t *testing.T) {
	r := newTestRouter(t, routeDeps{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Fatalf("expected prometheus output, got %d", w.Code)
	}
}

func TestRoutes_WebhooksRequireSignature(t *testing.T) {
	v, err := auth.NewSignatureValidator("twilio-token")
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	r := newTestRouter(t, routeDeps{signatures: auth.RequireTwilioSignature(v, "https://voice.test")})

	for _, path := range []string{telephony.PathVoice, telephony.PathGather + "?turn=0", telephony.PathStatus} {
		form := url.Values{"CallSid": {"CA1"}, "From": {"+1"}, "To": {"+2"}}
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("X-Twilio-Signature", "bogus")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusForbidden {
			t.Fatalf("%s: expected 403, got %d", path, w.Code)
		}
	}
}

func TestRoutes_AudioIsNotSignatureGuarded(t *testing.T) {
	v, _ := auth.NewSignatureValidator("twilio-token")
	r := newTestRouter(t, routeDeps{signatures: auth.RequireTwilioSignature(v, "https://voice.test")})

	// Reaches the handler, which rejects the missing media token itself.
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, telephony.PathAudio, nil))
	if w.Code != http.StatusForbidden || !strings.Contains(w.Body.String(), "missing token") {
		t.Fatalf("expected handler-level rejection, got %d: %s", w.Code, w.Body.String())
	}
}
