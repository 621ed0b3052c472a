package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"roomhub/internal/app"
	"roomhub/internal/util"
	"roomhub/pkg/domain"
	"roomhub/pkg/store"
	"roomhub/pkg/stream"
)

type fixture struct {
	app    *app.App
	store  *store.MemoryStore
	stream stream.Stream

	host   domain.User
	member domain.User
	room   domain.Room
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	st := store.NewMemoryStore()
	if err := store.EnsurePermissions(ctx, st); err != nil {
		t.Fatalf("seed permissions: %v", err)
	}
	a, err := app.New(app.Config{Store: st, Logger: slog.New(slog.DiscardHandler)})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := &fixture{app: a, store: st, stream: stream.NewRedisStream(client)}

	f.host = f.user(t, "alice")
	f.member = f.user(t, "bob")
	room, err := a.CreateRoom(ctx, f.host, app.CreateRoomInput{Name: "Go Talk"})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	f.room = room
	memberRole, ok, err := st.GetRoleByName(ctx, room.ID, app.RoleNameMember)
	if err != nil || !ok {
		t.Fatalf("member role: ok=%v err=%v", ok, err)
	}
	if _, err := a.AddParticipant(ctx, st, f.member.ID, room.ID, memberRole.ID); err != nil {
		t.Fatalf("join member: %v", err)
	}
	return f
}

func (f *fixture) user(t *testing.T, username string) domain.User {
	t.Helper()
	u := domain.User{
		ID:       util.NewID(),
		Email:    username + "@example.com",
		Username: username,
		IsActive: true,
	}
	if err := f.store.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return u
}

func (f *fixture) broker(t *testing.T, limiter Limiter) *Broker {
	t.Helper()
	b, err := NewBroker(Config{
		App:     f.app,
		Streams: f.stream,
		Limiter: limiter,
		Logger:  slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("new broker: %v", err)
	}
	return b
}

func (f *fixture) connect(t *testing.T, b *Broker, u domain.User) *Session {
	t.Helper()
	s, err := b.Connect(context.Background(), u, "alice", "go-talk")
	if err != nil {
		t.Fatalf("connect %s: %v", u.Username, err)
	}
	t.Cleanup(s.Disconnect)
	return s
}

// collect drains frames until the channel stays quiet for the window.
func collect(s *Session, quiet time.Duration) [][]byte {
	var frames [][]byte
	for {
		select {
		case data, ok := <-s.Outbound():
			if !ok {
				return frames
			}
			frames = append(frames, data)
		case <-time.After(quiet):
			return frames
		}
	}
}

func decodeEvent(t *testing.T, data []byte) Event {
	t.Helper()
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode event %s: %v", data, err)
	}
	return ev
}

type denyAll struct{}

func (denyAll) Allow(context.Context, string) bool { return false }

func TestConnectCloseConditions(t *testing.T) {
	f := newFixture(t)
	b := f.broker(t, nil)
	ctx := context.Background()

	if _, err := b.Connect(ctx, f.host, "alice", "no-such-room"); err != ErrRoomNotFound {
		t.Fatalf("missing room: err = %v, want ErrRoomNotFound", err)
	}
	outsider := f.user(t, "eve")
	if _, err := b.Connect(ctx, outsider, "alice", "go-talk"); err != ErrNotParticipant {
		t.Fatalf("outsider: err = %v, want ErrNotParticipant", err)
	}
	if _, err := b.Connect(ctx, domain.User{}, "alice", "go-talk"); err != ErrNotParticipant {
		t.Fatalf("anonymous: err = %v, want ErrNotParticipant", err)
	}
}

// Scenario: two co-located sessions. The producer and the observer each
// see the event exactly once; the stream echo is deduplicated.
func TestFanoutSelfDedup(t *testing.T) {
	f := newFixture(t)
	b := f.broker(t, nil)
	ctx := context.Background()

	a := f.connect(t, b, f.host)
	peer := f.connect(t, b, f.member)

	a.HandleFrame(ctx, []byte(`{"type":"text","message":"hi"}`))

	got := collect(peer, 300*time.Millisecond)
	if len(got) != 1 {
		t.Fatalf("observer frames = %d, want 1: %s", len(got), got)
	}
	ev := decodeEvent(t, got[0])
	if ev.Action != ActionNew || ev.Message == nil || ev.Message.Body != "hi" {
		t.Fatalf("observer event = %+v", ev)
	}

	own := collect(a, 300*time.Millisecond)
	if len(own) != 1 {
		t.Fatalf("producer frames = %d, want 1: %s", len(own), own)
	}
}

func TestStreamRecordLayout(t *testing.T) {
	f := newFixture(t)
	b := f.broker(t, nil)
	ctx := context.Background()

	a := f.connect(t, b, f.host)
	a.HandleFrame(ctx, []byte(`{"type":"text","message":"persisted"}`))

	entries, err := b.History(ctx, "alice", "go-talk", "0", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	fields := entries[0].Fields
	if fields["consumer_name"] != a.ConsumerName() {
		t.Fatalf("consumer_name = %q, want %q", fields["consumer_name"], a.ConsumerName())
	}
	if _, err := time.Parse(time.RFC3339Nano, fields["timestamp"]); err != nil {
		t.Fatalf("timestamp %q not ISO-8601: %v", fields["timestamp"], err)
	}
	ev := decodeEvent(t, []byte(fields["data"]))
	if ev.Type != "chat_message" || ev.Action != ActionNew || ev.Message.Body != "persisted" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestUpdateAndDeleteEvents(t *testing.T) {
	f := newFixture(t)
	b := f.broker(t, nil)
	ctx := context.Background()

	a := f.connect(t, b, f.host)
	peer := f.connect(t, b, f.member)

	a.HandleFrame(ctx, []byte(`{"type":"text","message":"original"}`))
	frames := collect(peer, 300*time.Millisecond)
	if len(frames) != 1 {
		t.Fatalf("new frames = %d, want 1", len(frames))
	}
	msgID := decodeEvent(t, frames[0]).Message.ID

	update, _ := json.Marshal(ClientFrame{Type: FrameUpdate, MessageID: msgID, Message: "edited"})
	a.HandleFrame(ctx, update)
	frames = collect(peer, 300*time.Millisecond)
	if len(frames) != 1 {
		t.Fatalf("update frames = %d, want 1", len(frames))
	}
	ev := decodeEvent(t, frames[0])
	if ev.Action != ActionUpdate || ev.MessageID != msgID || ev.Body != "edited" || !ev.IsEdited {
		t.Fatalf("update event = %+v", ev)
	}

	del, _ := json.Marshal(ClientFrame{Type: FrameDelete, MessageID: msgID})
	a.HandleFrame(ctx, del)
	frames = collect(peer, 300*time.Millisecond)
	if len(frames) != 1 {
		t.Fatalf("delete frames = %d, want 1", len(frames))
	}
	ev = decodeEvent(t, frames[0])
	if ev.Action != ActionDelete || ev.MessageID != msgID {
		t.Fatalf("delete event = %+v", ev)
	}
	if _, ok, _ := f.store.GetMessage(ctx, msgID); ok {
		t.Fatal("message still persisted after delete")
	}
}

// Validation failures go back to the offending client only and reach
// neither the broadcast group nor the stream.
func TestInlineErrorFrames(t *testing.T) {
	f := newFixture(t)
	b := f.broker(t, nil)
	ctx := context.Background()

	a := f.connect(t, b, f.host)
	peer := f.connect(t, b, f.member)

	a.HandleFrame(ctx, []byte(`{"type":"text","message":""}`))
	a.HandleFrame(ctx, []byte(`{"type":"bogus"}`))
	a.HandleFrame(ctx, []byte(`not json`))

	own := collect(a, 300*time.Millisecond)
	if len(own) != 3 {
		t.Fatalf("error frames = %d, want 3: %s", len(own), own)
	}
	for _, data := range own {
		var frame map[string]string
		if err := json.Unmarshal(data, &frame); err != nil || frame["error"] == "" {
			t.Fatalf("expected error frame, got %s", data)
		}
	}
	if frames := collect(peer, 200*time.Millisecond); len(frames) != 0 {
		t.Fatalf("observer received %d frames from failed sends", len(frames))
	}
	entries, err := b.History(ctx, "alice", "go-talk", "0", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("stream entries = %d, want 0", len(entries))
	}
}

func TestRateLimitRejectsInbound(t *testing.T) {
	f := newFixture(t)
	b := f.broker(t, denyAll{})
	ctx := context.Background()

	a := f.connect(t, b, f.host)
	a.HandleFrame(ctx, []byte(`{"type":"text","message":"hi"}`))

	frames := collect(a, 300*time.Millisecond)
	if len(frames) != 1 {
		t.Fatalf("frames = %d, want 1", len(frames))
	}
	var frame map[string]string
	if err := json.Unmarshal(frames[0], &frame); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if frame["error"] != RateLimitedMessage {
		t.Fatalf("error = %q, want %q", frame["error"], RateLimitedMessage)
	}
	if msgs, _ := f.store.ListRoomMessages(ctx, f.room.ID, 10); len(msgs) != 0 {
		t.Fatalf("rate-limited message was persisted")
	}
}

// Scenario: a second broker process replays history in append order.
func TestCrossProcessReplay(t *testing.T) {
	f := newFixture(t)
	b1 := f.broker(t, nil)
	b2 := f.broker(t, nil)
	ctx := context.Background()

	a := f.connect(t, b1, f.host)
	a.HandleFrame(ctx, []byte(`{"type":"text","message":"first"}`))
	a.HandleFrame(ctx, []byte(`{"type":"text","message":"second"}`))
	collect(a, 300*time.Millisecond)
	a.Disconnect()

	// Backfill from id 0 sees history in append order.
	entries, err := b2.History(ctx, "alice", "go-talk", "0", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("history entries = %d, want 2", len(entries))
	}
	first := decodeEvent(t, []byte(entries[0].Fields["data"]))
	second := decodeEvent(t, []byte(entries[1].Fields["data"]))
	if first.Message.Body != "first" || second.Message.Body != "second" {
		t.Fatalf("replay order: %q then %q", first.Message.Body, second.Message.Body)
	}
}

// Entries produced by a foreign process reach a local session through
// the stream path; no dedup applies because the producer is not local.
func TestStreamLiveDeliveryFromForeignProducer(t *testing.T) {
	f := newFixture(t)
	b := f.broker(t, nil)
	ctx := context.Background()

	remote := f.connect(t, b, f.member)

	data, _ := json.Marshal(Event{
		Type:    "chat_message",
		Action:  ActionNew,
		Message: &MessagePayload{ID: "m1", RoomID: f.room.ID, Body: "live"},
	})
	if _, err := f.stream.Append(ctx, StreamKey("alice", "go-talk"), map[string]string{
		"data":          string(data),
		"consumer_name": "consumer:other-user:other-process",
		"timestamp":     time.Now().UTC().Format(time.RFC3339Nano),
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	frames := collect(remote, 500*time.Millisecond)
	if len(frames) != 1 {
		t.Fatalf("remote frames = %d, want 1: %s", len(frames), frames)
	}
	if ev := decodeEvent(t, frames[0]); ev.Message == nil || ev.Message.Body != "live" {
		t.Fatalf("remote event = %+v", ev)
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	f := newFixture(t)
	b := f.broker(t, nil)

	s := f.connect(t, b, f.host)
	s.Disconnect()
	s.Disconnect()

	if _, ok := <-s.Outbound(); ok {
		t.Fatal("outbound channel still open after disconnect")
	}
}
