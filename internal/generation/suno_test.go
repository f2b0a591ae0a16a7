package generation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func newSunoServer(t *testing.T, status string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		switch r.URL.Path {
		case "/api/v1/generate":
			var body struct {
				Prompt       string `json:"prompt"`
				CustomMode   bool   `json:"customMode"`
				Instrumental bool   `json:"instrumental"`
				Model        string `json:"model"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			if body.Prompt == "" {
				t.Error("empty prompt in generate body")
			}
			if !body.Instrumental {
				t.Error("instrumental = false, want true")
			}
			json.NewEncoder(w).Encode(map[string]any{
				"code": 200,
				"data": map[string]any{"taskId": "task-77"},
			})
		case "/api/v1/generate/record-info":
			if got := r.URL.Query().Get("taskId"); got != "task-77" {
				t.Errorf("taskId = %q, want task-77", got)
			}
			json.NewEncoder(w).Encode(map[string]any{
				"code": 200,
				"data": map[string]any{
					"status": status,
					"response": map[string]any{
						"sunoData": []map[string]any{{"audioUrl": "https://audio.example/t.mp3"}},
					},
				},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
}

func newSunoClient(t *testing.T, baseURL string) *SunoClient {
	t.Helper()
	c, err := NewSunoClient(SunoConfig{
		BaseURL:      baseURL,
		APIKey:       "test-key",
		Instrumental: true,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewSunoClient: %v", err)
	}
	return c
}

func TestSunoSubmitAndPoll(t *testing.T) {
	srv := newSunoServer(t, "success")
	defer srv.Close()
	c := newSunoClient(t, srv.URL)

	jobID, err := c.Submit(context.Background(), "a slow tune for a rainy plaza")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if jobID != "task-77" {
		t.Errorf("jobID = %q, want task-77", jobID)
	}

	res, err := c.Poll(context.Background(), jobID)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if res.State != StateSucceeded {
		t.Errorf("state = %q, want succeeded", res.State)
	}
	if res.Location != "https://audio.example/t.mp3" {
		t.Errorf("location = %q", res.Location)
	}
}

func TestSunoPollStates(t *testing.T) {
	tests := []struct {
		status string
		want   State
	}{
		{"success", StateSucceeded},
		{"failed", StateFailed},
		{"error", StateFailed},
		{"wait", StatePending},
		{"processing", StatePending},
		{"queued", StatePending},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			srv := newSunoServer(t, tt.status)
			defer srv.Close()
			c := newSunoClient(t, srv.URL)
			res, err := c.Poll(context.Background(), "task-77")
			if err != nil {
				t.Fatalf("Poll: %v", err)
			}
			if res.State != tt.want {
				t.Errorf("state = %q, want %q", res.State, tt.want)
			}
		})
	}
}

func TestSunoRequiresKey(t *testing.T) {
	if _, err := NewSunoClient(SunoConfig{}, zap.NewNop()); err == nil {
		t.Fatal("NewSunoClient accepted empty key")
	}
}
