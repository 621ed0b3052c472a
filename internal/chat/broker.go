package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"roomhub/internal/app"
	"roomhub/internal/util"
	"roomhub/pkg/domain"
	"roomhub/pkg/stream"
)

// Connect failures the transport maps to close codes 4404 and 4403.
var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrNotParticipant = errors.New("not a participant of this room")
)

// RateLimitedMessage is the inline error sent when the inbound cap is
// exceeded.
const RateLimitedMessage = "Too many messages, slow down"

// Limiter is the inbound rate-limit check.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

// allowAll disables rate limiting when no limiter is configured.
type allowAll struct{}

func (allowAll) Allow(context.Context, string) bool { return true }

// Config wires the broker's collaborators.
type Config struct {
	App     *app.App
	Streams stream.Stream
	Limiter Limiter
	Logger  *slog.Logger

	// ReadCount bounds entries per group read; HistoryLimit bounds
	// history backfill.
	ReadCount    int64
	HistoryLimit int64
	// SendBuffer is the per-session outbound queue length.
	SendBuffer int
}

// Broker hosts the chat sessions of one process. One broker serves
// many rooms; each room has an in-process broadcast group plus the
// durable stream for cross-process fan-out.
type Broker struct {
	app          *app.App
	streams      stream.Stream
	limiter      Limiter
	log          *slog.Logger
	readCount    int64
	historyLimit int64
	sendBuffer   int

	mu     sync.Mutex
	groups map[string]*roomGroup
}

// NewBroker constructs a broker.
func NewBroker(cfg Config) (*Broker, error) {
	if cfg.App == nil {
		return nil, errors.New("broker requires the app service")
	}
	if cfg.Streams == nil {
		return nil, errors.New("broker requires a stream store")
	}
	if cfg.Limiter == nil {
		cfg.Limiter = allowAll{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ReadCount <= 0 {
		cfg.ReadCount = 32
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 100
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	return &Broker{
		app:          cfg.App,
		streams:      cfg.Streams,
		limiter:      cfg.Limiter,
		log:          cfg.Logger,
		readCount:    cfg.ReadCount,
		historyLimit: cfg.HistoryLimit,
		sendBuffer:   cfg.SendBuffer,
		groups:       make(map[string]*roomGroup),
	}, nil
}

// StreamKey returns the per-room stream identifier.
func StreamKey(host, slug string) string {
	return fmt.Sprintf("chat_stream:%s:%s", host, slug)
}

// GroupName returns the per-room consumer group identifier.
func GroupName(host, slug string) string {
	return fmt.Sprintf("chat_group:%s:%s", host, slug)
}

// Connect authenticates the principal against the room and opens a
// session: the consumer group is ensured on the room stream, the
// session joins the in-process broadcast group and the fan-out reader
// starts.
func (b *Broker) Connect(ctx context.Context, user domain.User, host, slug string) (*Session, error) {
	st := b.app.Store()
	room, ok, err := st.GetRoomByHostSlug(ctx, domain.NormalizeUsername(host), slug)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrRoomNotFound
	}
	if !user.Authenticated() {
		return nil, ErrNotParticipant
	}
	if _, ok, err := st.GetMembership(ctx, user.ID, room.ID); err != nil {
		return nil, err
	} else if !ok {
		return nil, ErrNotParticipant
	}

	streamKey := StreamKey(host, slug)
	groupName := GroupName(host, slug)
	if err := b.streams.EnsureGroup(ctx, streamKey, groupName, "0"); err != nil {
		return nil, err
	}

	sessionCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		broker:       b,
		user:         user,
		room:         room,
		streamKey:    streamKey,
		groupName:    groupName,
		consumerName: fmt.Sprintf("consumer:%s:%s", user.ID, util.NewID()),
		send:         make(chan []byte, b.sendBuffer),
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	b.group(room.ID).add(s)
	go s.runFanout(sessionCtx)
	return s, nil
}

// History returns up to count prior stream entries from startID
// forward, in append order. Used for backfill on reconnect.
func (b *Broker) History(ctx context.Context, host, slug, startID string, count int64) ([]stream.Entry, error) {
	if startID == "" {
		startID = "0"
	}
	if count <= 0 || count > b.historyLimit {
		count = b.historyLimit
	}
	return b.streams.Range(ctx, StreamKey(host, slug), startID, "+", count)
}

func (b *Broker) group(roomID string) *roomGroup {
	b.mu.Lock()
	defer b.mu.Unlock()
	g, ok := b.groups[roomID]
	if !ok {
		g = &roomGroup{sessions: make(map[*Session]struct{})}
		b.groups[roomID] = g
	}
	return g
}

// isLocalProducer reports whether the consumer name belongs to a
// session currently attached to this broker. Entries from local
// producers were already delivered through the in-process broadcast,
// so the fan-out reader drops them.
func (b *Broker) isLocalProducer(roomID, consumer string) bool {
	b.mu.Lock()
	g, ok := b.groups[roomID]
	b.mu.Unlock()
	if !ok {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for s := range g.sessions {
		if s.consumerName == consumer {
			return true
		}
	}
	return false
}

func (b *Broker) leave(roomID string, s *Session) {
	b.mu.Lock()
	g, ok := b.groups[roomID]
	if ok {
		empty := g.remove(s)
		if empty {
			delete(b.groups, roomID)
		}
	}
	b.mu.Unlock()
}

// roomGroup is the in-process broadcast path: lowest-latency delivery
// to co-located sessions while the stream covers durability and
// cross-process fan-out.
type roomGroup struct {
	mu       sync.Mutex
	sessions map[*Session]struct{}
}

func (g *roomGroup) add(s *Session) {
	g.mu.Lock()
	g.sessions[s] = struct{}{}
	g.mu.Unlock()
}

func (g *roomGroup) remove(s *Session) (empty bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.sessions[s]; ok {
		delete(g.sessions, s)
		close(s.send)
	}
	return len(g.sessions) == 0
}

// broadcast queues data on every session, including the producer. A
// session with a full queue misses the frame for good when the
// producer is co-located, because the fan-out loop suppresses stream
// entries from local producers; the stream path only backfills
// entries produced in other processes.
func (g *roomGroup) broadcast(data []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for s := range g.sessions {
		select {
		case s.send <- data:
		default:
		}
	}
}

// timestamp formats stream timestamps as ISO-8601 UTC.
func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
