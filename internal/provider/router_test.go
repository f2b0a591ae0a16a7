package provider

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

type stubProvider struct {
	id      string
	content string
	err     error
	calls   int
}

func (s *stubProvider) ID() string   { return s.id }
func (s *stubProvider) Name() string { return s.id }
func (s *stubProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &ChatResponse{Content: s.content}, nil
}

func TestRouterFallbackChain(t *testing.T) {
	r := NewRouter(zap.NewNop())
	primary := &stubProvider{id: "p1", err: ErrUpstreamUnavailable}
	backup := &stubProvider{id: "p2", content: "from backup"}
	r.Register(primary)
	r.Register(backup)
	r.Bind("agent-1", "p1")
	r.SetFallbacks("agent-1", []string{"p2"})

	resp, err := r.Route(context.Background(), "agent-1", &ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "from backup" {
		t.Errorf("got %q, want %q", resp.Content, "from backup")
	}
	if primary.calls != 1 || backup.calls != 1 {
		t.Errorf("got %d/%d calls, want 1/1", primary.calls, backup.calls)
	}
}

func TestRouterAllProvidersFail(t *testing.T) {
	r := NewRouter(zap.NewNop())
	r.Register(&stubProvider{id: "p1", err: ErrRateLimited})
	r.Bind("agent-1", "p1")

	_, err := r.Route(context.Background(), "agent-1", &ChatRequest{})
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("got %v, want ErrRateLimited", err)
	}
}

func TestRouterNoProvider(t *testing.T) {
	r := NewRouter(zap.NewNop())
	if _, err := r.Route(context.Background(), "nobody", &ChatRequest{}); err == nil {
		t.Error("expected error with no providers registered")
	}
}

func TestReason(t *testing.T) {
	r := NewRouter(zap.NewNop())
	r.Register(&stubProvider{id: "p1", content: "a fine day for gardening"})

	text, err := r.Reason(context.Background(), "agent-1", "what should I do today?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "a fine day for gardening" {
		t.Errorf("got %q", text)
	}
}
