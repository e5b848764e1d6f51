package client

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/evolvlabs/viewmymeetings/internal/meeting"
	"github.com/evolvlabs/viewmymeetings/internal/persistence"
	"github.com/evolvlabs/viewmymeetings/internal/protocol"
)

func at(t *testing.T, hour, minute int) time.Time {
	t.Helper()
	return time.Date(2026, time.March, 9, hour, minute, 0, 0, time.UTC)
}

func sample(t *testing.T, organizerID, topic, place string, startHour int) meeting.Meeting {
	t.Helper()
	return meeting.Meeting{
		Topic:     topic,
		Organizer: meeting.Employee{ID: organizerID, FullName: "Employee " + organizerID},
		Invitees:  []meeting.Employee{{ID: "e9", FullName: "Employee e9"}},
		Place:     place,
		Start:     at(t, startHour, 0),
		End:       at(t, startHour+1, 0),
	}
}

func TestCacheUpsertReplacesByFullIdentity(t *testing.T) {
	t.Parallel()

	original := sample(t, "e1", "Standup", "Room A", 9)
	c := NewCache([]meeting.Meeting{original})

	rescheduled := sample(t, "e1", "Standup", "Room A", 14)
	other := sample(t, "e2", "Review", "Room B", 10)
	c.UpsertAll([]meeting.Meeting{rescheduled, other})

	got := c.Meetings()
	if len(got) != 2 {
		t.Fatalf("cache holds %d meetings, want 2", len(got))
	}
	if !got[0].Equal(rescheduled) {
		t.Fatalf("cache[0] = %v, want the rescheduled version in place", got[0])
	}
	if !got[1].Equal(other) {
		t.Fatalf("cache[1] = %v, want the new meeting appended", got[1])
	}
}

func TestCacheUpsertKeepsDistinctPlaces(t *testing.T) {
	t.Parallel()

	roomA := sample(t, "e1", "Standup", "Room A", 9)
	roomB := sample(t, "e1", "Standup", "Room B", 10)
	c := NewCache(nil)
	c.UpsertAll([]meeting.Meeting{roomA, roomB})

	if got := c.Meetings(); len(got) != 2 {
		t.Fatalf("cache holds %d meetings, want distinct places kept apart", len(got))
	}
}

func TestCacheConflictQueueDeduplicatesByFullValue(t *testing.T) {
	t.Parallel()

	c := NewCache(nil)
	causing := sample(t, "e1", "Standup", "Room A", 9)

	if !c.ApplyConflict(causing) {
		t.Fatal("first conflict not queued")
	}
	if c.ApplyConflict(causing) {
		t.Fatal("identical conflict queued twice")
	}

	// A different version of the same identity is a distinct queue entry.
	shifted := sample(t, "e1", "Standup", "Room A", 11)
	if !c.ApplyConflict(shifted) {
		t.Fatal("changed version of the meeting not queued")
	}
	if len(c.Pending()) != 2 {
		t.Fatalf("queue holds %d entries, want 2", len(c.Pending()))
	}
}

func TestCacheResolutionClearsQueueByTwoPartIdentity(t *testing.T) {
	t.Parallel()

	c := NewCache(nil)
	c.ApplyConflict(sample(t, "e1", "Standup", "Room A", 9))
	c.ApplyConflict(sample(t, "e1", "Standup", "Room B", 11))
	c.ApplyConflict(sample(t, "e1", "Review", "Room A", 10))

	c.ApplyResolution(meeting.DeletionKey{OrganizerID: "e1", Topic: "Standup"})

	pending := c.Pending()
	if len(pending) != 1 || pending[0].Topic != "Review" {
		t.Fatalf("queue = %v, want only the Review entry", pending)
	}
}

func TestCacheDeletionClearsQueueAndCache(t *testing.T) {
	t.Parallel()

	m := sample(t, "e1", "Standup", "Room A", 9)
	c := NewCache([]meeting.Meeting{m})
	c.ApplyConflict(m)

	c.ApplyDeletion(m.DeletionKey())

	if len(c.Pending()) != 0 || len(c.Meetings()) != 0 {
		t.Fatal("deletion left entries behind")
	}
}

func TestCacheReplaceUpdatedTouchesQueueToo(t *testing.T) {
	t.Parallel()

	original := sample(t, "e1", "Standup", "Room A", 9)
	c := NewCache([]meeting.Meeting{original})
	c.ApplyConflict(original)

	rescheduled := sample(t, "e1", "Standup", "Room A", 14)
	c.ReplaceUpdated(rescheduled)

	if got := c.Meetings(); !got[0].Equal(rescheduled) {
		t.Fatalf("cache entry = %v, want the rescheduled version", got[0])
	}
	if got := c.Pending(); !got[0].Equal(rescheduled) {
		t.Fatalf("queue entry = %v, want the rescheduled version", got[0])
	}
}

func TestProcessPushRoutesEvents(t *testing.T) {
	t.Parallel()

	var conflicts, resolutions, deletions []meeting.Meeting
	c := &Client{
		cache:        NewCache(nil),
		logger:       slog.Default(),
		onConflict:   func(m meeting.Meeting) { conflicts = append(conflicts, m) },
		onResolution: func(m meeting.Meeting) { resolutions = append(resolutions, m) },
		onDeletion:   func(m meeting.Meeting) { deletions = append(deletions, m) },
	}
	ctx := context.Background()

	causing := sample(t, "e1", "Standup", "Room A", 9)
	doc, err := meeting.Encode(causing)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	c.processPush(ctx, protocol.TagConflictNotice, doc)
	if len(conflicts) != 1 || !conflicts[0].Equal(causing) {
		t.Fatalf("conflict handler calls = %v, want one", conflicts)
	}

	// The queue absorbs the duplicate, but the handler still fires.
	c.processPush(ctx, protocol.TagConflictNotice, doc)
	if len(conflicts) != 2 {
		t.Fatalf("conflict handler called %d times, want 2", len(conflicts))
	}
	if len(c.cache.Pending()) != 1 {
		t.Fatalf("queue holds %d entries, want the duplicate absorbed", len(c.cache.Pending()))
	}

	c.processPush(ctx, protocol.TagConflictResolved, doc)
	if len(resolutions) != 1 || len(c.cache.Pending()) != 0 {
		t.Fatal("resolution not applied")
	}

	c.cache.Append(causing)
	c.processPush(ctx, protocol.TagMeetingDeleted, doc)
	if len(deletions) != 1 || len(c.cache.Meetings()) != 0 {
		t.Fatal("deletion not applied")
	}
}

func pipedClient(t *testing.T) (*Client, *protocol.Codec) {
	t.Helper()
	clientSide, serverSide := net.Pipe()
	t.Cleanup(func() {
		clientSide.Close()
		serverSide.Close()
	})
	c := &Client{
		cache:  NewCache(nil),
		logger: slog.Default(),
		conn:   clientSide,
		codec:  protocol.NewCodec(clientSide),
	}
	return c, protocol.NewCodec(serverSide)
}

func TestCreateRoundTripUpdatesCache(t *testing.T) {
	t.Parallel()

	c, server := pipedClient(t)
	m := sample(t, "e1", "Standup", "Room A", 9)

	done := make(chan error, 1)
	go func() {
		tag, _, err := server.Read()
		if err != nil {
			done <- err
			return
		}
		if tag != protocol.TagMeetingCreateRequest {
			done <- errors.New("unexpected request tag " + string(tag))
			return
		}
		done <- server.Write(protocol.TagMeetingCreateResponse, protocol.EncodeAck(true))
	}()

	if err := c.Create(context.Background(), m); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("server side: %v", err)
	}
	if got := c.Cached(); len(got) != 1 || !got[0].Equal(m) {
		t.Fatalf("cache = %v, want the created meeting", got)
	}
}

func TestRejectedMutationLeavesCacheUntouched(t *testing.T) {
	t.Parallel()

	c, server := pipedClient(t)
	m := sample(t, "e1", "Standup", "Room A", 9)

	go func() {
		server.Read()
		server.Write(protocol.TagMeetingDeleteResponse, protocol.EncodeAck(false))
	}()

	c.cache.Append(m)
	if err := c.Delete(context.Background(), m); !errors.Is(err, ErrRequestRejected) {
		t.Fatalf("err = %v, want ErrRequestRejected", err)
	}
	if len(c.Cached()) != 1 {
		t.Fatal("rejected delete removed the cache entry")
	}
}

func TestMeetingsReconcilesListing(t *testing.T) {
	t.Parallel()

	c, server := pipedClient(t)
	stale := sample(t, "e1", "Standup", "Room A", 9)
	c.cache.Append(stale)

	fresh := sample(t, "e1", "Standup", "Room A", 14)
	doc, err := meeting.EncodeList([]meeting.Meeting{fresh})
	if err != nil {
		t.Fatalf("EncodeList: %v", err)
	}
	go func() {
		server.Read()
		server.Write(protocol.TagMeetingListResponse, doc)
	}()

	got, err := c.Meetings(context.Background())
	if err != nil {
		t.Fatalf("Meetings: %v", err)
	}
	if len(got) != 1 || !got[0].Equal(fresh) {
		t.Fatalf("Meetings = %v, want the fresh version upserted in place", got)
	}
}

func TestLocalSnapshotRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cache.json")
	m := sample(t, "e1", "Standup", "Room A", 9)
	if err := persistence.NewSnapshotStore(path).Save([]meeting.Meeting{m}); err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}

	c, err := New(Options{ServerAddr: "127.0.0.1:8080", StorePath: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := c.Cached(); len(got) != 1 || !got[0].Equal(m) {
		t.Fatalf("cache = %v, want the snapshot contents", got)
	}
}
