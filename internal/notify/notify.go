// Package notify announces settled creative jobs to chat platforms.
package notify

import (
	"context"
	"fmt"

	"github.com/jiejieje/alien-town/internal/dispatch"
	"go.uber.org/zap"
)

// Notifier delivers one announcement to one platform.
type Notifier interface {
	Platform() string
	Notify(ctx context.Context, text string) error
}

// Broadcaster fans settled jobs out to every registered notifier. It
// satisfies dispatch.Announcer; delivery failures are logged and
// never reach the dispatcher.
type Broadcaster struct {
	notifiers []Notifier
	logger    *zap.Logger
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster(logger *zap.Logger) *Broadcaster {
	return &Broadcaster{logger: logger}
}

// Add registers a notifier.
func (b *Broadcaster) Add(n Notifier) {
	b.notifiers = append(b.notifiers, n)
	b.logger.Info("notifier registered", zap.String("platform", n.Platform()))
}

// AnnounceJob formats and delivers a settled job.
func (b *Broadcaster) AnnounceJob(ctx context.Context, job *dispatch.Job) {
	var text string
	switch job.State {
	case dispatch.JobSucceeded:
		text = fmt.Sprintf("%s finished a %s: %s\n%s",
			job.AgentName, job.Kind, job.Prompt, job.Location)
	case dispatch.JobFailed:
		text = fmt.Sprintf("%s's %s did not work out: %s",
			job.AgentName, job.Kind, job.Error)
	default:
		return
	}
	for _, n := range b.notifiers {
		if err := n.Notify(ctx, text); err != nil {
			b.logger.Warn("announcement failed",
				zap.String("platform", n.Platform()),
				zap.String("job", job.ID),
				zap.Error(err))
		}
	}
}
