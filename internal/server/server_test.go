package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/evolvlabs/viewmymeetings/internal/application"
	"github.com/evolvlabs/viewmymeetings/internal/conflict"
	"github.com/evolvlabs/viewmymeetings/internal/meeting"
	"github.com/evolvlabs/viewmymeetings/internal/protocol"
)

type pushFrame struct {
	tag     protocol.Tag
	payload string
}

type stubMember struct {
	frames  []pushFrame
	sendErr error
	closed  bool
}

func (m *stubMember) SendPush(tag protocol.Tag, payload string) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.frames = append(m.frames, pushFrame{tag: tag, payload: payload})
	return nil
}

func (m *stubMember) Close() error {
	m.closed = true
	return nil
}

type stubMeetingAPI struct {
	created   []meeting.Meeting
	updated   []meeting.Meeting
	deleted   []meeting.DeletionKey
	listing   []meeting.Meeting
	conflicts []conflict.Entry
	failWith  error
}

func (s *stubMeetingAPI) Create(_ context.Context, _ string, m meeting.Meeting) error {
	if s.failWith != nil {
		return s.failWith
	}
	s.created = append(s.created, m)
	return nil
}

func (s *stubMeetingAPI) Update(_ context.Context, _ string, m meeting.Meeting) error {
	if s.failWith != nil {
		return s.failWith
	}
	s.updated = append(s.updated, m)
	return nil
}

func (s *stubMeetingAPI) Delete(_ context.Context, _ string, key meeting.DeletionKey) (meeting.Meeting, error) {
	if s.failWith != nil {
		return meeting.Meeting{}, s.failWith
	}
	s.deleted = append(s.deleted, key)
	return meeting.Meeting{}, nil
}

func (s *stubMeetingAPI) MeetingsFor(_ context.Context, _ string) []meeting.Meeting {
	return s.listing
}

func (s *stubMeetingAPI) ConflictsFor(_ context.Context, _ string) []conflict.Entry {
	return s.conflicts
}

type stubAuthAPI struct {
	identity application.Identity
	err      error
}

func (a *stubAuthAPI) Authenticate(_ context.Context, _, _, _ string) (application.Identity, error) {
	if a.err != nil {
		return application.Identity{}, a.err
	}
	return a.identity, nil
}

func sample(t *testing.T, organizerID, topic string, inviteeIDs ...string) meeting.Meeting {
	t.Helper()
	invitees := make([]meeting.Employee, 0, len(inviteeIDs))
	for _, id := range inviteeIDs {
		invitees = append(invitees, meeting.Employee{ID: id, FullName: "Employee " + id})
	}
	return meeting.Meeting{
		Topic:     topic,
		Organizer: meeting.Employee{ID: organizerID, FullName: "Employee " + organizerID},
		Invitees:  invitees,
		Place:     "Room A",
		Start:     time.Date(2026, time.March, 9, 9, 0, 0, 0, time.UTC),
		End:       time.Date(2026, time.March, 9, 10, 0, 0, 0, time.UTC),
	}
}

func TestRegistryBindEvictsPreviousSession(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	first := &stubMember{}
	second := &stubMember{}

	if evicted := r.Bind("e1", first); evicted != nil {
		t.Fatalf("first Bind evicted %v, want nil", evicted)
	}
	evicted := r.Bind("e1", second)
	if evicted != Member(first) {
		t.Fatalf("second Bind evicted %v, want the first session", evicted)
	}

	sender, ok := r.Lookup("e1")
	if !ok || sender != PushSender(second) {
		t.Fatal("Lookup did not return the newest session")
	}
}

func TestRegistryReleaseOnlyUnbindsOwnSession(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	first := &stubMember{}
	second := &stubMember{}
	r.Bind("e1", first)
	r.Bind("e1", second)

	// The evicted session winding down must not unbind its successor.
	r.Release("e1", first)
	if _, ok := r.Lookup("e1"); !ok {
		t.Fatal("evicted session released the live binding")
	}

	r.Release("e1", second)
	if _, ok := r.Lookup("e1"); ok {
		t.Fatal("binding survived its own release")
	}
}

func TestDispatcherConflictOrdering(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	member := &stubMember{}
	registry.Bind("e1", member)
	d := NewDispatcher(registry, NewMetrics(nil), slog.Default())

	causing := sample(t, "e1", "Review")
	affectedA := sample(t, "e1", "Standup")
	affectedB := sample(t, "e2", "Sync", "e1")
	d.NotifyConflicts(context.Background(), "e1", causing, []meeting.Meeting{affectedA, affectedB})

	if len(member.frames) != 3 {
		t.Fatalf("frames = %d, want causing plus two affected", len(member.frames))
	}
	for i, want := range []meeting.Meeting{causing, affectedA, affectedB} {
		if member.frames[i].tag != protocol.TagConflictNotice {
			t.Fatalf("frame %d tag = %s, want %s", i, member.frames[i].tag, protocol.TagConflictNotice)
		}
		got, err := meeting.Decode(member.frames[i].payload)
		if err != nil {
			t.Fatalf("frame %d payload: %v", i, err)
		}
		if !got.Equal(want) {
			t.Fatalf("frame %d carries %v, want %v", i, got, want)
		}
	}
}

func TestDispatcherSkipsDisconnectedOwner(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(NewRegistry(), NewMetrics(nil), slog.Default())
	d.NotifyConflicts(context.Background(), "e1", sample(t, "e1", "Review"), []meeting.Meeting{sample(t, "e1", "Standup")})
	// No session bound: the event stays in the buckets for catch-up replay.
}

func TestDispatcherBroadcastReachesConnectedParticipants(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	organizer := &stubMember{}
	invitee := &stubMember{}
	registry.Bind("e1", organizer)
	registry.Bind("e2", invitee)
	d := NewDispatcher(registry, NewMetrics(nil), slog.Default())

	m := sample(t, "e1", "Review", "e2", "e3")
	d.NotifyDeletion(context.Background(), m)

	for name, member := range map[string]*stubMember{"organizer": organizer, "invitee": invitee} {
		if len(member.frames) != 1 || member.frames[0].tag != protocol.TagMeetingDeleted {
			t.Fatalf("%s frames = %v, want one deletion push", name, member.frames)
		}
	}
}

func TestDispatcherReplayKeepsNotificationOrder(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(NewRegistry(), NewMetrics(nil), slog.Default())
	member := &stubMember{}

	causing := sample(t, "e1", "Review")
	affected := sample(t, "e1", "Standup")
	d.Replay(context.Background(), member, "e1", []conflict.Entry{{Causing: causing, Affected: []meeting.Meeting{affected}}})

	if len(member.frames) != 2 {
		t.Fatalf("frames = %d, want causing then affected", len(member.frames))
	}
	first, err := meeting.Decode(member.frames[0].payload)
	if err != nil {
		t.Fatalf("first payload: %v", err)
	}
	if !first.Equal(causing) {
		t.Fatalf("first replayed frame = %v, want the causing meeting", first)
	}
}

func testSession(t *testing.T, api *stubMeetingAPI) *Session {
	t.Helper()
	return &Session{
		id:            "test",
		service:       api,
		metrics:       NewMetrics(nil),
		logger:        slog.Default(),
		identity:      application.Identity{ID: "e1", FullName: "Employee e1"},
		authenticated: true,
	}
}

func TestHandleRequestCreateAcknowledges(t *testing.T) {
	t.Parallel()

	api := &stubMeetingAPI{}
	s := testSession(t, api)
	doc, err := meeting.Encode(sample(t, "e1", "Standup"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	tag, payload, reply := s.handleRequest(context.Background(), protocol.TagMeetingCreateRequest, doc)
	if !reply || tag != protocol.TagMeetingCreateResponse {
		t.Fatalf("reply/tag = %t/%s, want a create response", reply, tag)
	}
	if !protocol.DecodeAck(payload) {
		t.Fatalf("payload = %q, want a success acknowledgment", payload)
	}
	if len(api.created) != 1 {
		t.Fatalf("service received %d creates, want 1", len(api.created))
	}
}

func TestHandleRequestFailureAcknowledgesFalse(t *testing.T) {
	t.Parallel()

	api := &stubMeetingAPI{failWith: errors.New("rejected")}
	s := testSession(t, api)
	doc, err := meeting.Encode(sample(t, "e1", "Standup"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	_, payload, reply := s.handleRequest(context.Background(), protocol.TagMeetingUpdateRequest, doc)
	if !reply || protocol.DecodeAck(payload) {
		t.Fatalf("reply/payload = %t/%q, want a failure acknowledgment", reply, payload)
	}
}

func TestHandleRequestMalformedDocument(t *testing.T) {
	t.Parallel()

	api := &stubMeetingAPI{}
	s := testSession(t, api)

	_, payload, reply := s.handleRequest(context.Background(), protocol.TagMeetingCreateRequest, "{broken")
	if !reply || protocol.DecodeAck(payload) {
		t.Fatalf("reply/payload = %t/%q, want a failure acknowledgment", reply, payload)
	}
	if len(api.created) != 0 {
		t.Fatal("malformed document reached the service")
	}
}

func TestHandleRequestDeleteUsesTwoPartIdentity(t *testing.T) {
	t.Parallel()

	api := &stubMeetingAPI{}
	s := testSession(t, api)
	doc, err := meeting.Encode(sample(t, "e1", "Standup"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	_, payload, _ := s.handleRequest(context.Background(), protocol.TagMeetingDeleteRequest, doc)
	if !protocol.DecodeAck(payload) {
		t.Fatalf("payload = %q, want a success acknowledgment", payload)
	}
	want := meeting.DeletionKey{OrganizerID: "e1", Topic: "Standup"}
	if len(api.deleted) != 1 || api.deleted[0] != want {
		t.Fatalf("deleted keys = %v, want %v", api.deleted, want)
	}
}

func TestHandleRequestListEncodesEmptyArray(t *testing.T) {
	t.Parallel()

	s := testSession(t, &stubMeetingAPI{})
	tag, payload, reply := s.handleRequest(context.Background(), protocol.TagMeetingListRequest, "")
	if !reply || tag != protocol.TagMeetingListResponse {
		t.Fatalf("reply/tag = %t/%s, want a list response", reply, tag)
	}
	if payload != "[]" {
		t.Fatalf("payload = %q, want an empty JSON array", payload)
	}
}

func TestHandleRequestIgnoresResponseTags(t *testing.T) {
	t.Parallel()

	s := testSession(t, &stubMeetingAPI{})
	if _, _, reply := s.handleRequest(context.Background(), protocol.TagAuthResponse, ""); reply {
		t.Fatal("response tag on the request channel produced a reply")
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

// socketSession wires a Session over one half of a net.Pipe so handleAuth can
// be driven end to end, push listener included.
func socketSession(t *testing.T, api *stubMeetingAPI) (*Session, *protocol.Codec, string) {
	t.Helper()

	serverConn, clientConn := net.Pipe()
	t.Cleanup(func() { clientConn.Close() })

	registry := NewRegistry()
	metrics := NewMetrics(nil)
	dispatcher := NewDispatcher(registry, metrics, slog.Default())
	auth := &stubAuthAPI{identity: application.Identity{ID: "e1", FullName: "Employee e1", PushPort: freePort(t)}}

	s := newSession("test", "127.0.0.1", serverConn, auth, api, registry, dispatcher, metrics, slog.Default())
	t.Cleanup(func() { s.Close() })

	creds, err := protocol.EncodeCredentials(protocol.Credentials{
		Employee: protocol.AuthEmployee{ID: "e1", Name: "Employee e1"},
		Secret:   "hunter2",
	})
	if err != nil {
		t.Fatalf("EncodeCredentials: %v", err)
	}
	return s, protocol.NewCodec(clientConn), creds
}

// authenticate plays the client half of the handshake: read the announced
// push port off the request channel and dial it while handleAuth waits.
func authenticate(t *testing.T, s *Session, clientCodec *protocol.Codec, creds string) net.Conn {
	t.Helper()

	type dialResult struct {
		conn net.Conn
		err  error
	}
	results := make(chan dialResult, 1)
	go func() {
		_, payload, err := clientCodec.Read()
		if err != nil {
			results <- dialResult{err: err}
			return
		}
		port, ok := protocol.DecodeAuthResponse(payload)
		if !ok {
			results <- dialResult{err: fmt.Errorf("authentication rejected: %q", payload)}
			return
		}
		conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		results <- dialResult{conn: conn, err: err}
	}()

	if err := s.handleAuth(context.Background(), creds); err != nil {
		t.Fatalf("handleAuth: %v", err)
	}
	res := <-results
	if res.err != nil {
		t.Fatalf("push channel establishment: %v", res.err)
	}
	t.Cleanup(func() { res.conn.Close() })
	return res.conn
}

func TestHandleAuthReauthenticationKeepsSessionAlive(t *testing.T) {
	t.Parallel()

	s, clientCodec, creds := socketSession(t, &stubMeetingAPI{})

	firstPush := authenticate(t, s, clientCodec, creds)
	secondPush := authenticate(t, s, clientCodec, creds)

	// The session re-binds itself; it must not be treated as an evicted
	// predecessor and close its own transports.
	sender, ok := s.registry.Lookup("e1")
	if !ok || sender != PushSender(s) {
		t.Fatal("re-authentication dropped the registry binding")
	}
	if size := s.registry.Size(); size != 1 {
		t.Fatalf("registry size = %d, want 1", size)
	}

	doc, err := meeting.Encode(sample(t, "e1", "Standup"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := s.SendPush(protocol.TagConflictNotice, doc); err != nil {
		t.Fatalf("SendPush after re-authentication: %v", err)
	}
	tag, payload, err := protocol.NewCodec(secondPush).Read()
	if err != nil || tag != protocol.TagConflictNotice {
		t.Fatalf("push on the new channel: tag=%s err=%v", tag, err)
	}
	got, err := meeting.Decode(payload)
	if err != nil || got.Topic != "Standup" {
		t.Fatalf("push payload = %v (err %v), want the Standup meeting", got, err)
	}

	// The superseded channel is closed, not leaked.
	firstPush.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := protocol.NewCodec(firstPush).Read(); err == nil {
		t.Fatal("superseded push channel still delivers frames")
	}
}

func TestHandleAuthReplaysStoredConflicts(t *testing.T) {
	t.Parallel()

	causing := sample(t, "e1", "Review")
	affected := sample(t, "e1", "Standup")
	api := &stubMeetingAPI{conflicts: []conflict.Entry{{Causing: causing, Affected: []meeting.Meeting{affected}}}}

	s, clientCodec, creds := socketSession(t, api)
	push := authenticate(t, s, clientCodec, creds)

	pushCodec := protocol.NewCodec(push)
	for i, want := range []meeting.Meeting{causing, affected} {
		tag, payload, err := pushCodec.Read()
		if err != nil {
			t.Fatalf("catch-up frame %d: %v", i, err)
		}
		if tag != protocol.TagConflictNotice {
			t.Fatalf("catch-up frame %d tag = %s, want %s", i, tag, protocol.TagConflictNotice)
		}
		got, err := meeting.Decode(payload)
		if err != nil {
			t.Fatalf("catch-up frame %d payload: %v", i, err)
		}
		if !got.Equal(want) {
			t.Fatalf("catch-up frame %d carries %v, want %v", i, got, want)
		}
	}
}
