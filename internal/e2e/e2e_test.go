//go:build unix

package e2e

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"cadmonkey/internal/engine"
	"cadmonkey/pkg/types"
)

func TestE2E_HealthAndReady(t *testing.T) {
	srv := newServer(t, "normal", nil)
	resp, body := httpGet(t, srv.URL+"/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status=%d", resp.StatusCode)
	}
	var h types.HealthResponse
	if err := json.Unmarshal(body, &h); err != nil || h.Status != "healthy" || h.Model != "cadmonkey-1b" {
		t.Fatalf("health body=%s err=%v", body, err)
	}
	if resp, body := httpGet(t, srv.URL+"/readyz"); resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz status=%d body=%s", resp.StatusCode, body)
	}
}

func TestE2E_ChatStream(t *testing.T) {
	srv := newServer(t, "normal", nil)
	resp := postStream(t, context.Background(), srv.URL+"/chat_stream", `{"message":"make me a cube","max_tokens":50}`)
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type=%q", ct)
	}
	got := readFrames(t, resp.Body)
	want := []string{
		`{"token":"cube([10, 10, 10]);"}`,
		`{"token":"if (value > 5 and < 10) sphere(r = 3);"}`,
		`{"token":"translate([0, 0, 5]) cylinder(h = 4, r = 1);"}`,
		`{"done":true}`,
	}
	if len(got) != len(want) {
		t.Fatalf("frames=%v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("frame %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestE2E_ChatBatch(t *testing.T) {
	srv := newServer(t, "normal", nil)
	resp, body := httpPostJSON(t, srv.URL+"/chat", `{"message":"make me a cube"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d body=%s", resp.StatusCode, body)
	}
	var out types.ChatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("json: %v", err)
	}
	if !strings.HasPrefix(out.Response, "cube([10, 10, 10]);") || out.Message != "make me a cube" {
		t.Fatalf("response=%+v", out)
	}
}

func TestE2E_UnitCap(t *testing.T) {
	srv := newServer(t, "endless", nil)
	resp := postStream(t, context.Background(), srv.URL+"/chat_stream", `{"message":"x","max_tokens":3}`)
	defer resp.Body.Close()
	frames := readFrames(t, resp.Body)
	if len(frames) != 4 || frames[3] != `{"done":true}` {
		t.Fatalf("frames=%v", frames)
	}
}

func TestE2E_StallEndsWithError(t *testing.T) {
	srv := newServer(t, "stall", func(c *engine.Config) { c.Subprocess.IdleTimeout = 300 * time.Millisecond })
	start := time.Now()
	resp := postStream(t, context.Background(), srv.URL+"/chat_stream", `{"message":"x"}`)
	defer resp.Body.Close()
	frames := readFrames(t, resp.Body)
	if len(frames) != 2 || frames[0] != `{"token":"cube(1);"}` {
		t.Fatalf("frames=%v", frames)
	}
	if !strings.HasPrefix(frames[1], `{"error":`) {
		t.Fatalf("terminal=%s", frames[1])
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("stall detection took %v", time.Since(start))
	}
}

func TestE2E_EmptyMessage(t *testing.T) {
	srv := newServer(t, "normal", nil)
	for _, path := range []string{"/chat", "/chat_stream"} {
		resp, body := httpPostJSON(t, srv.URL+path, `{"message":"  "}`)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s status=%d", path, resp.StatusCode)
		}
		if got := strings.TrimSpace(string(body)); got != `{"error":"No message provided","code":400}` {
			t.Fatalf("%s body=%s", path, got)
		}
	}
}

// TestE2E_Backpressure429 holds the only slot with a stalled stream and expects
// the next request to give up after max_wait.
func TestE2E_Backpressure429(t *testing.T) {
	srv := newServer(t, "stall", func(c *engine.Config) {
		c.MaxConcurrent = 1
		c.QueueDepth = 1
		c.MaxWait = 50 * time.Millisecond
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	first := postStream(t, ctx, srv.URL+"/chat_stream", `{"message":"x"}`)
	defer first.Body.Close()
	// The first frame proves the slot is held.
	if line, err := bufio.NewReader(first.Body).ReadString('\n'); err != nil || !strings.HasPrefix(line, "data: ") {
		t.Fatalf("first frame %q err=%v", line, err)
	}

	resp, body := httpPostJSON(t, srv.URL+"/chat", `{"message":"y"}`)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d body=%s", resp.StatusCode, body)
	}
}

func TestE2E_LaunchFailure(t *testing.T) {
	srv := newServer(t, "normal", func(c *engine.Config) { c.Subprocess.Launch.Bin = "/nonexistent/llama-cli" })
	resp, _ := httpPostJSON(t, srv.URL+"/chat", `{"message":"x"}`)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	if resp, _ := httpGet(t, srv.URL+"/readyz"); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("readyz status=%d", resp.StatusCode)
	}
}

// TestE2E_EngineFailure runs with merged stderr, so the engine's error line
// reaches the reader like any other output.
func TestE2E_EngineFailure(t *testing.T) {
	srv := newServer(t, "fail", nil)
	resp := postStream(t, context.Background(), srv.URL+"/chat_stream", `{"message":"x"}`)
	defer resp.Body.Close()
	frames := readFrames(t, resp.Body)
	if len(frames) == 0 {
		t.Fatalf("no frames")
	}
	last := frames[len(frames)-1]
	if !strings.HasPrefix(last, `{"error":`) || !strings.Contains(last, "failed to load model") {
		t.Fatalf("terminal=%s frames=%v", last, frames)
	}

	r, body := httpPostJSON(t, srv.URL+"/chat", `{"message":"x"}`)
	if r.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status=%d body=%s", r.StatusCode, body)
	}
	var out types.ErrorResponse
	if err := json.Unmarshal(body, &out); err != nil || !strings.Contains(out.Error, "failed to load model") {
		t.Fatalf("body=%s err=%v", body, err)
	}
}
