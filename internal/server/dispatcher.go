package server

import (
	"context"
	"log/slog"

	"github.com/evolvlabs/viewmymeetings/internal/conflict"
	"github.com/evolvlabs/viewmymeetings/internal/meeting"
	"github.com/evolvlabs/viewmymeetings/internal/protocol"
)

// Dispatcher fans mutation events out to connected sessions' push channels.
// It runs synchronously inside whichever session worker triggered the
// mutation; employees without a live session are skipped, their state waits in
// the conflict buckets for catch-up replay.
type Dispatcher struct {
	registry *Registry
	metrics  *Metrics
	logger   *slog.Logger
}

// NewDispatcher wires the dispatcher to the session registry.
func NewDispatcher(registry *Registry, metrics *Metrics, logger *slog.Logger) *Dispatcher {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{registry: registry, metrics: metrics, logger: logger}
}

// NotifyConflicts delivers a conflict group to its owner: the causing meeting
// first, then each affected meeting in stored order, one frame each.
func (d *Dispatcher) NotifyConflicts(ctx context.Context, ownerID string, causing meeting.Meeting, affected []meeting.Meeting) {
	d.metrics.ConflictsRecorded.Inc()
	sender, ok := d.registry.Lookup(ownerID)
	if !ok {
		return
	}
	d.send(ctx, sender, ownerID, protocol.TagConflictNotice, causing)
	for _, m := range affected {
		d.send(ctx, sender, ownerID, protocol.TagConflictNotice, m)
	}
}

// NotifyResolution tells every connected participant the meeting no longer
// clashes.
func (d *Dispatcher) NotifyResolution(ctx context.Context, m meeting.Meeting) {
	d.broadcast(ctx, protocol.TagConflictResolved, m)
}

// NotifyDeletion tells every connected participant the meeting is gone.
func (d *Dispatcher) NotifyDeletion(ctx context.Context, m meeting.Meeting) {
	d.broadcast(ctx, protocol.TagMeetingDeleted, m)
}

// Replay writes the owner's current conflict entries to a freshly established
// push channel, in the same causing-then-affected order as live notification.
func (d *Dispatcher) Replay(ctx context.Context, sender PushSender, ownerID string, entries []conflict.Entry) {
	for _, entry := range entries {
		d.send(ctx, sender, ownerID, protocol.TagConflictNotice, entry.Causing)
		for _, m := range entry.Affected {
			d.send(ctx, sender, ownerID, protocol.TagConflictNotice, m)
		}
	}
}

func (d *Dispatcher) broadcast(ctx context.Context, tag protocol.Tag, m meeting.Meeting) {
	for _, employeeID := range m.ParticipantIDs() {
		sender, ok := d.registry.Lookup(employeeID)
		if !ok {
			continue
		}
		d.send(ctx, sender, employeeID, tag, m)
	}
}

func (d *Dispatcher) send(ctx context.Context, sender PushSender, employeeID string, tag protocol.Tag, m meeting.Meeting) {
	payload, err := meeting.Encode(m)
	if err != nil {
		d.metrics.PushFailures.Inc()
		d.logger.ErrorContext(ctx, "push payload encode failed", "employee_id", employeeID, "tag", tag, "error", err)
		return
	}
	if err := sender.SendPush(tag, payload); err != nil {
		d.metrics.PushFailures.Inc()
		d.logger.ErrorContext(ctx, "push delivery failed", "employee_id", employeeID, "tag", tag, "error", err)
		return
	}
	d.metrics.PushesSent.Inc()
}
