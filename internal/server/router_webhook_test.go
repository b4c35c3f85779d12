package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func postWebhook(t *testing.T, handler http.Handler, secret, body string) *httptest.ResponseRecorder {
	t.Helper()
	request := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	request.Header.Set("Content-Type", "application/json")
	if secret != "" {
		request.Header.Set("X-Webhook-Secret", secret)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var payload map[string]interface{}
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
	return payload
}

func TestWebhookRejectsWrongSecret(t *testing.T) {
	env := newTestEnvironment(t, environmentOptions{})
	for _, secret := range []string{"", "guess"} {
		recorder := postWebhook(t, env.handler, secret, `{"type":"ping"}`)
		if recorder.Code != http.StatusForbidden {
			t.Fatalf("expected 403 for secret %q, got %d", secret, recorder.Code)
		}
	}
}

func TestWebhookPingReportsTime(t *testing.T) {
	env := newTestEnvironment(t, environmentOptions{})
	recorder := postWebhook(t, env.handler, testWebhookSecret, `{"type":"ping"}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeBody(t, recorder)
	if payload["status"] != "ok" {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if _, err := time.Parse(time.RFC3339Nano, payload["time"].(string)); err != nil {
		t.Fatalf("expected RFC3339 time, got %v", payload["time"])
	}
}

func TestWebhookRecordsUserMessageAndCommand(t *testing.T) {
	env := newTestEnvironment(t, environmentOptions{})
	bodies := []string{
		`{"type":"user","telegram_id":100,"username":"neo"}`,
		`{"type":"message","telegram_id":100,"text":"hello"}`,
		`{"type":"command","telegram_id":100,"command":"/start"}`,
	}
	for _, body := range bodies {
		recorder := postWebhook(t, env.handler, testWebhookSecret, body)
		if recorder.Code != http.StatusOK {
			t.Fatalf("unexpected status %d for %s: %s", recorder.Code, body, recorder.Body.String())
		}
		if decodeBody(t, recorder)["ok"] != true {
			t.Fatalf("expected ok payload for %s", body)
		}
	}

	ctx := context.Background()
	user, err := env.store.GetUser(ctx, 100)
	if err != nil || user.Username != "neo" {
		t.Fatalf("expected stored user, got %+v (%v)", user, err)
	}
	messages, err := env.store.CountMessages(ctx, 100)
	if err != nil || messages != 1 {
		t.Fatalf("expected 1 message, got %d (%v)", messages, err)
	}
	commands, err := env.store.CountCommands(ctx, 100)
	if err != nil || commands != 1 {
		t.Fatalf("expected 1 command, got %d (%v)", commands, err)
	}
}

func TestWebhookImportUsersReportsImportedCount(t *testing.T) {
	env := newTestEnvironment(t, environmentOptions{})
	recorder := postWebhook(t, env.handler, testWebhookSecret,
		`{"type":"import_users","users":[{"telegram_id":1,"username":"a"},{"username":"b"}]}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", recorder.Code, recorder.Body.String())
	}
	if imported := decodeBody(t, recorder)["imported"]; imported != float64(1) {
		t.Fatalf("expected imported == 1, got %v", imported)
	}
}

func TestWebhookRejectsUnknownType(t *testing.T) {
	env := newTestEnvironment(t, environmentOptions{})
	recorder := postWebhook(t, env.handler, testWebhookSecret, `{"type":"x"}`)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	if message := decodeBody(t, recorder)["error"]; message != "Unknown type: x" {
		t.Fatalf("unexpected error payload: %v", message)
	}
}

func TestWebhookRejectsMalformedEnvelopes(t *testing.T) {
	env := newTestEnvironment(t, environmentOptions{})
	for _, body := range []string{`not json`, `{"type":"user"}`, `{"type":"message","telegram_id":1,"direction":"up"}`} {
		recorder := postWebhook(t, env.handler, testWebhookSecret, body)
		if recorder.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %s, got %d", body, recorder.Code)
		}
	}
}

func TestHealthAndRequestID(t *testing.T) {
	env := newTestEnvironment(t, environmentOptions{})

	request := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", recorder.Code)
	}
	if recorder.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected a generated request id")
	}

	request = httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	request.Header.Set("X-Request-ID", "caller-supplied")
	recorder = httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, request)
	if recorder.Header().Get("X-Request-ID") != "caller-supplied" {
		t.Fatalf("expected caller request id to be propagated, got %q", recorder.Header().Get("X-Request-ID"))
	}
}

func TestMetricsEndpointIsServed(t *testing.T) {
	env := newTestEnvironment(t, environmentOptions{})
	postWebhook(t, env.handler, testWebhookSecret, `{"type":"ping"}`)

	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), `botdesk_ingest_events_total{outcome="ok",type="ping"}`) {
		t.Fatalf("expected ingest counter in exposition")
	}
}
