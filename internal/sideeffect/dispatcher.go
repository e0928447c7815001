package sideeffect

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event kinds published to external collaborators.
const (
	KindAudit           = "audit"
	KindMemberActivated = "member-activated"
	KindInvitationSent  = "invitation-sent"
)

// Event is an outbound side effect of a reconciliation pass: an audit-log
// append or a notification. Delivery is fire-and-forget and at-least-once;
// a failed delivery never rolls back the record writes that produced it.
type Event struct {
	Kind          string    `json:"kind"`
	Timestamp     time.Time `json:"timestamp"`
	Source        string    `json:"source,omitempty"`
	MemberID      string    `json:"member_id,omitempty"`
	Email         string    `json:"email,omitempty"`
	TenantID      *uint     `json:"tenant_id,omitempty"`
	InviteToken   string    `json:"invite_token,omitempty"`
	FieldsChanged []string  `json:"fields_changed,omitempty"`
}

// Emitter accepts events for asynchronous delivery.
type Emitter interface {
	Emit(event Event)
}

// Publisher delivers a single event to the outbound transport.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Dispatcher queues events and delivers them on a background worker with
// bounded redelivery retries. Failures are logged and dropped after the
// retry budget; callers are never blocked on delivery.
type Dispatcher struct {
	publisher   Publisher
	log         *zap.Logger
	queue       chan Event
	maxAttempts int
	backoff     time.Duration

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewDispatcher creates a dispatcher and starts its delivery worker.
func NewDispatcher(publisher Publisher, log *zap.Logger) *Dispatcher {
	d := &Dispatcher{
		publisher:   publisher,
		log:         log,
		queue:       make(chan Event, 1024),
		maxAttempts: 5,
		backoff:     200 * time.Millisecond,
		done:        make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Emit queues an event for delivery. Events are dropped, with a log entry,
// when the queue is full or the dispatcher is already closed; external
// consumers must tolerate gaps the same way they tolerate duplicates.
// The queue channel is never closed, so Emit is safe to call concurrently
// with Close.
func (d *Dispatcher) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case <-d.done:
		d.log.Warn("dispatcher closed, dropping event",
			zap.String("kind", event.Kind),
			zap.String("member_id", event.MemberID))
		return
	default:
	}
	select {
	case d.queue <- event:
	default:
		d.log.Error("side-effect queue full, dropping event",
			zap.String("kind", event.Kind),
			zap.String("member_id", event.MemberID))
	}
}

// Close stops the worker after draining queued events.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.done)
	})
	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		case <-d.done:
			for {
				select {
				case event := <-d.queue:
					d.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(event Event) {
	ctx := context.Background()
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		err := d.publisher.Publish(ctx, event)
		if err == nil {
			return
		}
		d.log.Warn("side-effect delivery failed",
			zap.String("kind", event.Kind),
			zap.String("member_id", event.MemberID),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt < d.maxAttempts {
			select {
			case <-time.After(time.Duration(attempt) * d.backoff):
			case <-d.done:
			}
		}
	}
	d.log.Error("side-effect delivery abandoned",
		zap.String("kind", event.Kind),
		zap.String("member_id", event.MemberID),
		zap.Int("attempts", d.maxAttempts))
}
