package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/evolvlabs/viewmymeetings/internal/meeting"
	"github.com/evolvlabs/viewmymeetings/internal/persistence"
	"github.com/evolvlabs/viewmymeetings/internal/protocol"
)

var (
	// ErrAuthenticationRejected is returned when the server declines the
	// presented credentials.
	ErrAuthenticationRejected = errors.New("client: authentication rejected")
	// ErrRequestRejected is returned when the server acknowledges a mutation
	// with a failure.
	ErrRequestRejected = errors.New("client: request rejected")
)

// Handler observes one pushed meeting.
type Handler func(m meeting.Meeting)

// Client speaks the framed protocol over the request/response channel and
// listens on the push channel the server assigns at login.
type Client struct {
	serverAddr string
	creds      protocol.Credentials
	cache      *Cache
	snapshots  *persistence.SnapshotStore
	logger     *slog.Logger

	onConflict   Handler
	onResolution Handler
	onDeletion   Handler

	mu        sync.Mutex
	conn      net.Conn
	codec     *protocol.Codec
	pushConn  net.Conn
	closeOnce sync.Once
}

// Options configures a client.
type Options struct {
	ServerAddr  string
	Credentials protocol.Credentials
	// StorePath, when set, names the local JSON snapshot the cache is
	// loaded from at construction and written back to after reconciliation.
	StorePath string
	Logger    *slog.Logger

	OnConflict   Handler
	OnResolution Handler
	OnDeletion   Handler
}

// New builds a client and loads its local snapshot. No connection is opened
// until Connect.
func New(opts Options) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var snapshots *persistence.SnapshotStore
	var cached []meeting.Meeting
	if opts.StorePath != "" {
		snapshots = persistence.NewSnapshotStore(opts.StorePath)
		loaded, err := snapshots.Load()
		if err != nil {
			return nil, fmt.Errorf("load local snapshot: %w", err)
		}
		cached = loaded
	}

	return &Client{
		serverAddr:   opts.ServerAddr,
		creds:        opts.Credentials,
		cache:        NewCache(cached),
		snapshots:    snapshots,
		logger:       logger,
		onConflict:   opts.OnConflict,
		onResolution: opts.OnResolution,
		onDeletion:   opts.OnDeletion,
	}, nil
}

// Connect dials the server, authenticates, and establishes the push channel
// the auth response announces. The push listener goroutine runs until the
// channel closes.
func (c *Client) Connect(ctx context.Context) error {
	conn, err := net.Dial("tcp", c.serverAddr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.serverAddr, err)
	}
	c.conn = conn
	c.codec = protocol.NewCodec(conn)

	doc, err := protocol.EncodeCredentials(c.creds)
	if err != nil {
		conn.Close()
		return err
	}
	if err := c.codec.Write(protocol.TagAuthRequest, doc); err != nil {
		conn.Close()
		return fmt.Errorf("send credentials: %w", err)
	}
	tag, payload, err := c.codec.Read()
	if err != nil {
		conn.Close()
		return fmt.Errorf("read auth response: %w", err)
	}
	if tag != protocol.TagAuthResponse {
		conn.Close()
		return fmt.Errorf("unexpected tag %s in auth response", tag)
	}
	pushPort, ok := protocol.DecodeAuthResponse(payload)
	if !ok {
		conn.Close()
		return ErrAuthenticationRejected
	}

	host, _, err := net.SplitHostPort(c.serverAddr)
	if err != nil {
		conn.Close()
		return fmt.Errorf("split server address: %w", err)
	}
	pushConn, err := net.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(pushPort)))
	if err != nil {
		conn.Close()
		return fmt.Errorf("dial push channel: %w", err)
	}
	c.pushConn = pushConn

	c.logger.InfoContext(ctx, "connected",
		"server_addr", c.serverAddr,
		"push_port", pushPort,
	)
	go c.listenPush(ctx, protocol.NewCodec(pushConn))
	return nil
}

// Create submits a new meeting. On acknowledgment the meeting is appended to
// the local cache.
func (c *Client) Create(ctx context.Context, m meeting.Meeting) error {
	if err := c.roundTripMutation(ctx, protocol.TagMeetingCreateRequest, protocol.TagMeetingCreateResponse, m); err != nil {
		return err
	}
	c.cache.Append(m)
	c.saveSnapshot(ctx)
	return nil
}

// Update resubmits a meeting under its (organizer, topic, place) identity.
// On acknowledgment every local entry matching (organizer, topic) is replaced
// by the new version.
func (c *Client) Update(ctx context.Context, m meeting.Meeting) error {
	if err := c.roundTripMutation(ctx, protocol.TagMeetingUpdateRequest, protocol.TagMeetingUpdateResponse, m); err != nil {
		return err
	}
	c.cache.ReplaceUpdated(m)
	c.saveSnapshot(ctx)
	return nil
}

// Delete removes the meeting matching the submitted meeting's
// (organizer, topic) identity, locally as well once acknowledged.
func (c *Client) Delete(ctx context.Context, m meeting.Meeting) error {
	if err := c.roundTripMutation(ctx, protocol.TagMeetingDeleteRequest, protocol.TagMeetingDeleteResponse, m); err != nil {
		return err
	}
	c.cache.Remove(m.DeletionKey())
	c.saveSnapshot(ctx)
	return nil
}

// Meetings fetches the server's listing for this identity, reconciles it
// into the cache, and returns the cached view.
func (c *Client) Meetings(ctx context.Context) ([]meeting.Meeting, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.codec.Write(protocol.TagMeetingListRequest, ""); err != nil {
		return nil, fmt.Errorf("send listing request: %w", err)
	}
	tag, payload, err := c.codec.Read()
	if err != nil {
		return nil, fmt.Errorf("read listing response: %w", err)
	}
	if tag != protocol.TagMeetingListResponse {
		return nil, fmt.Errorf("unexpected tag %s in listing response", tag)
	}
	listed, err := meeting.DecodeList(payload)
	if err != nil {
		return nil, fmt.Errorf("decode listing: %w", err)
	}

	c.cache.UpsertAll(listed)
	c.saveSnapshot(ctx)
	return c.cache.Meetings(), nil
}

// Cached returns the local view without contacting the server.
func (c *Client) Cached() []meeting.Meeting {
	return c.cache.Meetings()
}

// PendingConflicts returns the queued conflict-causing meetings.
func (c *Client) PendingConflicts() []meeting.Meeting {
	return c.cache.Pending()
}

// Close saves the local snapshot and shuts both channels.
func (c *Client) Close(ctx context.Context) error {
	c.saveSnapshot(ctx)
	c.closeOnce.Do(func() {
		if c.conn != nil {
			c.conn.Close()
		}
		if c.pushConn != nil {
			c.pushConn.Close()
		}
	})
	return nil
}

func (c *Client) roundTripMutation(ctx context.Context, reqTag, respTag protocol.Tag, m meeting.Meeting) error {
	doc, err := meeting.Encode(m)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.codec.Write(reqTag, doc); err != nil {
		return fmt.Errorf("send %s: %w", reqTag, err)
	}
	tag, payload, err := c.codec.Read()
	if err != nil {
		return fmt.Errorf("read %s: %w", respTag, err)
	}
	if tag != respTag {
		return fmt.Errorf("unexpected tag %s, want %s", tag, respTag)
	}
	if !protocol.DecodeAck(payload) {
		return ErrRequestRejected
	}
	return nil
}

// listenPush consumes the push channel until it closes, folding each event
// into the cache and invoking the registered handler.
func (c *Client) listenPush(ctx context.Context, codec *protocol.Codec) {
	for {
		tag, payload, err := codec.Read()
		if err != nil {
			if errors.Is(err, protocol.ErrUnknownTag) {
				c.logger.WarnContext(ctx, "unknown push tag dropped", "tag", tag)
				continue
			}
			c.logger.InfoContext(ctx, "push channel closed", "reason", err.Error())
			return
		}
		c.processPush(ctx, tag, payload)
	}
}

func (c *Client) processPush(ctx context.Context, tag protocol.Tag, payload string) {
	m, err := meeting.Decode(payload)
	if err != nil {
		c.logger.WarnContext(ctx, "malformed push payload dropped", "tag", tag, "error", err)
		return
	}

	switch tag {
	case protocol.TagConflictNotice:
		// The queue absorbs duplicates, but the handler fires on every
		// notification regardless.
		c.cache.ApplyConflict(m)
		c.invoke(c.onConflict, m)
	case protocol.TagConflictResolved:
		c.cache.ApplyResolution(m.DeletionKey())
		c.invoke(c.onResolution, m)
	case protocol.TagMeetingDeleted:
		c.cache.ApplyDeletion(m.DeletionKey())
		c.invoke(c.onDeletion, m)
	default:
		c.logger.WarnContext(ctx, "unexpected tag on push channel", "tag", tag)
	}
	c.saveSnapshot(ctx)
}

func (c *Client) invoke(h Handler, m meeting.Meeting) {
	if h != nil {
		h(m)
	}
}

func (c *Client) saveSnapshot(ctx context.Context) {
	if c.snapshots == nil {
		return
	}
	if err := c.snapshots.Save(c.cache.Meetings()); err != nil {
		c.logger.ErrorContext(ctx, "local snapshot write failed", "error", err)
	}
}
