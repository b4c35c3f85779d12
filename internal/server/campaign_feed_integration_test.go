package server

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCampaignStreamEmitsCompletedEvents(t *testing.T) {
	env := newTestEnvironment(t, environmentOptions{heartbeat: time.Hour})
	env.seedUsers(t, 1, 2)
	server := httptest.NewServer(env.handler)
	t.Cleanup(server.Close)
	token := env.operatorToken(t)

	streamRequest, err := http.NewRequest(http.MethodGet, server.URL+"/broadcasts/events?access_token="+token, http.NoBody)
	if err != nil {
		t.Fatalf("failed to construct stream request: %v", err)
	}
	streamResp, err := http.DefaultClient.Do(streamRequest)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	t.Cleanup(func() {
		_ = streamResp.Body.Close()
	})
	if streamResp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected stream status: %d", streamResp.StatusCode)
	}
	if !strings.HasPrefix(streamResp.Header.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("unexpected content type: %q", streamResp.Header.Get("Content-Type"))
	}

	submitRequest, err := http.NewRequest(http.MethodPost, server.URL+"/broadcasts", strings.NewReader(`{"text":"stream me"}`))
	if err != nil {
		t.Fatalf("failed to construct submit request: %v", err)
	}
	submitRequest.Header.Set("Authorization", "Bearer "+token)
	submitRequest.Header.Set("Content-Type", "application/json")
	submitResp, err := http.DefaultClient.Do(submitRequest)
	if err != nil {
		t.Fatalf("submit request failed: %v", err)
	}
	_ = submitResp.Body.Close()
	if submitResp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected submit status: %d", submitResp.StatusCode)
	}

	type eventPayload struct {
		BroadcastID int64  `json:"broadcastId"`
		SentCount   int    `json:"sentCount"`
		Status      string `json:"status"`
	}
	type readResult struct {
		line string
		err  error
	}

	streamReader := bufio.NewReader(streamResp.Body)
	currentEventType := ""
	deadline := time.After(5 * time.Second)
	for {
		resultCh := make(chan readResult, 1)
		go func() {
			line, err := streamReader.ReadString('\n')
			resultCh <- readResult{line: line, err: err}
		}()
		select {
		case <-deadline:
			t.Fatal("timed out waiting for campaign event")
		case res := <-resultCh:
			if res.err != nil {
				t.Fatalf("failed to read stream: %v", res.err)
			}
			line := strings.TrimSpace(res.line)
			if line == "" {
				continue
			}
			if strings.HasPrefix(line, "event:") {
				currentEventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
				continue
			}
			if !strings.HasPrefix(line, "data:") || currentEventType != "campaign-completed" {
				continue
			}
			var payload eventPayload
			if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &payload); err != nil {
				t.Fatalf("failed to decode event payload: %v", err)
			}
			if payload.BroadcastID == 0 || payload.SentCount != 2 || payload.Status != "done" {
				t.Fatalf("unexpected campaign payload: %+v", payload)
			}
			return
		}
	}
}
