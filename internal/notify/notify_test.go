package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jiejieje/alien-town/internal/dispatch"
	"go.uber.org/zap"
)

type fakeNotifier struct {
	platform string
	texts    []string
	err      error
}

func (f *fakeNotifier) Platform() string { return f.platform }

func (f *fakeNotifier) Notify(_ context.Context, text string) error {
	f.texts = append(f.texts, text)
	return f.err
}

func TestBroadcastSucceededJob(t *testing.T) {
	b := NewBroadcaster(zap.NewNop())
	first := &fakeNotifier{platform: "discord"}
	second := &fakeNotifier{platform: "slack"}
	b.Add(first)
	b.Add(second)

	b.AnnounceJob(context.Background(), &dispatch.Job{
		State:     dispatch.JobSucceeded,
		AgentName: "Zix",
		Kind:      "image",
		Prompt:    "twin moons",
		Location:  "https://img.example/1.png",
	})

	for _, n := range []*fakeNotifier{first, second} {
		if len(n.texts) != 1 {
			t.Fatalf("%s got %d messages, want 1", n.platform, len(n.texts))
		}
		if !strings.Contains(n.texts[0], "Zix") || !strings.Contains(n.texts[0], "https://img.example/1.png") {
			t.Errorf("%s message = %q", n.platform, n.texts[0])
		}
	}
}

func TestBroadcastSkipsUnsettledJobs(t *testing.T) {
	b := NewBroadcaster(zap.NewNop())
	n := &fakeNotifier{platform: "slack"}
	b.Add(n)

	b.AnnounceJob(context.Background(), &dispatch.Job{State: dispatch.JobPolling})
	if len(n.texts) != 0 {
		t.Errorf("got %d messages for unsettled job, want 0", len(n.texts))
	}
}

func TestBroadcastSurvivesNotifierFailure(t *testing.T) {
	b := NewBroadcaster(zap.NewNop())
	broken := &fakeNotifier{platform: "discord", err: errors.New("gateway closed")}
	healthy := &fakeNotifier{platform: "slack"}
	b.Add(broken)
	b.Add(healthy)

	b.AnnounceJob(context.Background(), &dispatch.Job{
		State:     dispatch.JobFailed,
		AgentName: "Vreel",
		Kind:      "music",
		Error:     "budget exhausted",
	})
	if len(healthy.texts) != 1 {
		t.Errorf("healthy notifier got %d messages, want 1", len(healthy.texts))
	}
}
