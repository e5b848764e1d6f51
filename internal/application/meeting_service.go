package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/evolvlabs/viewmymeetings/internal/conflict"
	"github.com/evolvlabs/viewmymeetings/internal/meeting"
	"github.com/evolvlabs/viewmymeetings/internal/store"
)

// Snapshotter persists and restores the full meeting collection.
type Snapshotter interface {
	Load() ([]meeting.Meeting, error)
	Save(meetings []meeting.Meeting) error
}

// Notifier receives the propagation events a mutation produces. The service
// calls it while holding its lock, so implementations must not call back into
// the service.
type Notifier interface {
	NotifyConflicts(ctx context.Context, ownerID string, causing meeting.Meeting, affected []meeting.Meeting)
	NotifyResolution(ctx context.Context, m meeting.Meeting)
	NotifyDeletion(ctx context.Context, m meeting.Meeting)
}

// MeetingService owns the meeting store, the conflict buckets, and the
// snapshot file. One mutex serializes every operation so the three stay
// coherent as a unit.
type MeetingService struct {
	mu        sync.Mutex
	store     *store.Store
	buckets   *conflict.Buckets
	snapshots Snapshotter
	notifier  Notifier
	logger    *slog.Logger
}

// NewMeetingService wires dependencies for meeting operations.
func NewMeetingService(snapshots Snapshotter, notifier Notifier, logger *slog.Logger) *MeetingService {
	return &MeetingService{
		store:     store.New(),
		buckets:   conflict.NewBuckets(),
		snapshots: snapshots,
		notifier:  notifier,
		logger:    defaultLogger(logger),
	}
}

// SetNotifier installs the notifier after construction: the dispatcher needs
// the server's session registry, and the server needs the service, so the
// wiring closes the loop here.
func (s *MeetingService) SetNotifier(n Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifier = n
}

func (s *MeetingService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "MeetingService", operation, attrs...)
}

// Load restores the persisted collection and rebuilds the conflict buckets
// over it, so catch-up replay covers overlaps that predate this process.
func (s *MeetingService) Load(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("MeetingService is nil")
	}
	logger := s.loggerWith(ctx, "Load")

	s.mu.Lock()
	defer s.mu.Unlock()

	var meetings []meeting.Meeting
	if s.snapshots != nil {
		var err error
		meetings, err = s.snapshots.Load()
		if err != nil {
			return fmt.Errorf("load snapshot: %w", err)
		}
	}

	s.store = store.Load(meetings)
	s.buckets = conflict.NewBuckets()
	conflict.DetectAll(meetings, s.buckets)

	logger.InfoContext(ctx, "collection restored",
		"meetings", len(meetings),
		"employees_with_conflicts", len(s.buckets.Owners()),
	)
	return nil
}

// Create validates the meeting, detects conflicts against the stored
// collection, notifies each affected employee, and stores and persists the
// meeting. Conflicts do not block creation.
func (s *MeetingService) Create(ctx context.Context, actorID string, m meeting.Meeting) (err error) {
	if s == nil {
		return fmt.Errorf("MeetingService is nil")
	}
	logger := s.loggerWith(ctx, "Create",
		"organizer_id", m.Organizer.ID,
		"topic", m.Topic,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "create failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "meeting created")
	}()

	if actorID != m.Organizer.ID {
		return ErrUnauthorized
	}
	if vErr := validateMeetingCore(m); vErr.HasErrors() {
		return vErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.store.FindByIdentity(m.Key()); exists {
		return ErrAlreadyExists
	}

	if conflict.DetectForCandidate(s.store, s.buckets, m) {
		s.notifyConflictsLocked(ctx, m)
	}

	s.store.Insert(m)
	s.persistLocked(ctx, logger)
	return nil
}

// Update replaces the stored meeting sharing the submitted meeting's
// (organizer, topic, place) identity, clears every conflict record involving
// the previous version, recomputes conflicts for the new version, and either
// notifies the remaining clashes or announces the resolution.
func (s *MeetingService) Update(ctx context.Context, actorID string, m meeting.Meeting) (err error) {
	if s == nil {
		return fmt.Errorf("MeetingService is nil")
	}
	logger := s.loggerWith(ctx, "Update",
		"organizer_id", m.Organizer.ID,
		"topic", m.Topic,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "update failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "meeting updated")
	}()

	if actorID != m.Organizer.ID {
		return ErrUnauthorized
	}
	if vErr := validateMeetingCore(m); vErr.HasErrors() {
		return vErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	previous, ok := s.store.FindByIdentity(m.Key())
	if !ok {
		return ErrNotFound
	}

	s.store.Replace(previous.Key(), m)
	s.buckets.ClearMeeting(previous)

	if conflict.DetectForCandidate(s.store, s.buckets, m) {
		s.notifyConflictsLocked(ctx, m)
	} else if s.notifier != nil {
		s.notifier.NotifyResolution(ctx, m)
	}

	s.persistLocked(ctx, logger)
	return nil
}

// Delete removes the meeting matching the (organizer, topic) identity,
// clears every conflict record involving it, and announces the deletion to
// its participants.
func (s *MeetingService) Delete(ctx context.Context, actorID string, key meeting.DeletionKey) (removed meeting.Meeting, err error) {
	if s == nil {
		return meeting.Meeting{}, fmt.Errorf("MeetingService is nil")
	}
	logger := s.loggerWith(ctx, "Delete",
		"organizer_id", key.OrganizerID,
		"topic", key.Topic,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "delete failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "meeting deleted")
	}()

	if actorID != key.OrganizerID {
		return meeting.Meeting{}, ErrUnauthorized
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed, ok := s.store.Remove(key)
	if !ok {
		return meeting.Meeting{}, ErrNotFound
	}
	s.buckets.ClearMeeting(removed)
	s.persistLocked(ctx, logger)

	if s.notifier != nil {
		s.notifier.NotifyDeletion(ctx, removed)
	}
	return removed, nil
}

// MeetingsFor returns the employee's organized and invited meetings,
// deduplicated.
func (s *MeetingService) MeetingsFor(ctx context.Context, employeeID string) []meeting.Meeting {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.MeetingsFor(employeeID)
}

// ConflictsFor returns the employee's current conflict entries in replay
// order.
func (s *MeetingService) ConflictsFor(ctx context.Context, employeeID string) []conflict.Entry {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buckets.ForOwner(employeeID)
}

// notifyConflictsLocked delivers the candidate's freshly recorded entries,
// one notification per affected employee.
func (s *MeetingService) notifyConflictsLocked(ctx context.Context, causing meeting.Meeting) {
	if s.notifier == nil {
		return
	}
	for _, ownerID := range causing.ParticipantIDs() {
		entry, ok := s.buckets.Entry(ownerID, causing.Key())
		if !ok {
			continue
		}
		s.notifier.NotifyConflicts(ctx, ownerID, entry.Causing, entry.Affected)
	}
}

// persistLocked rewrites the snapshot from the store. A persistence failure
// is logged and otherwise ignored so the in-memory state stays authoritative.
func (s *MeetingService) persistLocked(ctx context.Context, logger *slog.Logger) {
	if s.snapshots == nil {
		return
	}
	if err := s.snapshots.Save(s.store.Snapshot()); err != nil {
		logger.ErrorContext(ctx, "snapshot write failed", "error", err)
	}
}

func validateMeetingCore(m meeting.Meeting) *ValidationError {
	vErr := &ValidationError{}
	if strings.TrimSpace(m.Topic) == "" {
		vErr.add("meetingTopic", "topic is required")
	}
	if strings.TrimSpace(m.Place) == "" {
		vErr.add("meetingPlace", "place is required")
	}
	if m.Organizer.ID == "" {
		vErr.add("meetingOrganizer", "organizer is required")
	}
	if !m.End.After(m.Start) {
		vErr.add("meetingEndTime", "end time must come after start time")
	}
	for _, invitee := range m.Invitees {
		if invitee.ID == "" {
			vErr.add("meetingInviteeList", "invitee identifiers are required")
			break
		}
		if invitee.ID == m.Organizer.ID {
			vErr.add("meetingInviteeList", "organizer cannot be an invitee")
			break
		}
	}
	return vErr
}
