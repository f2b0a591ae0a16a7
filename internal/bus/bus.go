// Package bus publishes simulation lifecycle events to Redis Streams,
// giving observers a replayable feed of ticks and creative jobs.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jiejieje/alien-town/internal/dispatch"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const eventStream = "town:events"

// EventType discriminates entries on the event stream.
type EventType string

const (
	EventTick EventType = "tick"
	EventJob  EventType = "job"
)

// Event is one entry on the stream.
type Event struct {
	Type      EventType `json:"type"`
	Tick      int64     `json:"tick"`
	Agents    int       `json:"agents,omitempty"`
	Reflected int       `json:"reflected,omitempty"`
	Intents   int       `json:"intents,omitempty"`
	Job       *JobEvent `json:"job,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// JobEvent is the job payload of an Event.
type JobEvent struct {
	ID        string `json:"id"`
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name"`
	Kind      string `json:"kind"`
	State     string `json:"state"`
	Location  string `json:"location,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Bus is a Redis Streams event publisher. Publishing never propagates
// errors to the callers driving the simulation; a broken bus costs
// observability, not ticks.
type Bus struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// New connects to Redis and verifies the connection.
func New(redisURL string, logger *zap.Logger) (*Bus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Bus{rdb: rdb, logger: logger}, nil
}

func (b *Bus) publish(ctx context.Context, ev *Event) {
	ev.Timestamp = time.Now().UTC()
	data, err := json.Marshal(ev)
	if err != nil {
		b.logger.Warn("event not serializable", zap.Error(err))
		return
	}
	if err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: eventStream,
		Values: map[string]interface{}{"data": string(data)},
	}).Err(); err != nil {
		b.logger.Warn("event publish failed",
			zap.String("type", string(ev.Type)),
			zap.Error(err))
	}
}

// PublishTick emits a tick summary.
func (b *Bus) PublishTick(ctx context.Context, tick int64, agents, reflections, intents int) {
	b.publish(ctx, &Event{
		Type:      EventTick,
		Tick:      tick,
		Agents:    agents,
		Reflected: reflections,
		Intents:   intents,
	})
}

// PublishJob emits a settled creative job.
func (b *Bus) PublishJob(ctx context.Context, job *dispatch.Job) {
	b.publish(ctx, &Event{
		Type: EventJob,
		Tick: job.CompletedTick,
		Job: &JobEvent{
			ID:        job.ID,
			AgentID:   job.AgentID,
			AgentName: job.AgentName,
			Kind:      string(job.Kind),
			State:     string(job.State),
			Location:  job.Location,
			Error:     job.Error,
		},
	})
}

// Subscribe tails the event stream from now on. Cancel the context to
// stop; the channel closes when the reader exits.
func (b *Bus) Subscribe(ctx context.Context) <-chan *Event {
	ch := make(chan *Event, 16)

	go func() {
		defer close(ch)
		lastID := "$"

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			results, err := b.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{eventStream, lastID},
				Count:   10,
				Block:   time.Second * 2,
			}).Result()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				continue
			}

			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var ev Event
					if json.Unmarshal([]byte(data), &ev) == nil {
						ch <- &ev
					}
				}
			}
		}
	}()

	return ch
}

// Close shuts down the Redis connection.
func (b *Bus) Close() error {
	return b.rdb.Close()
}
