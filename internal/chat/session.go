package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"roomhub/pkg/apperror"
	"roomhub/pkg/domain"
)

// readBackoff paces retries after a transient stream read failure.
const readBackoff = 250 * time.Millisecond

// Session is one client's connection to one room. The transport owns
// the socket; the session owns the stream consumer and the outbound
// queue. Cooperatively single-threaded: one fan-out reader, one writer
// draining Outbound.
type Session struct {
	broker       *Broker
	user         domain.User
	room         domain.Room
	streamKey    string
	groupName    string
	consumerName string

	send   chan []byte
	cancel context.CancelFunc

	closeOnce sync.Once
	done      chan struct{}
}

// Outbound is the channel the transport drains to the client socket.
// It is closed when the session leaves the room group.
func (s *Session) Outbound() <-chan []byte { return s.send }

// Room returns the room this session is attached to.
func (s *Session) Room() domain.Room { return s.room }

// ConsumerName identifies this session's stream consumer. Unique per
// process; stamped on every entry the session produces for self-dedup.
func (s *Session) ConsumerName() string { return s.consumerName }

// HandleFrame processes one inbound client frame. Validation and
// authorization failures produce an inline error frame for this client
// only; successful mutations are broadcast in-process and appended to
// the room stream.
func (s *Session) HandleFrame(ctx context.Context, raw []byte) {
	if !s.broker.limiter.Allow(ctx, "chat:"+s.user.ID) {
		s.deliver(errorFrame(RateLimitedMessage))
		return
	}

	var frame ClientFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		s.deliver(errorFrame("malformed frame"))
		return
	}

	var (
		event Event
		err   error
	)
	switch frame.Type {
	case FrameText:
		var msg domain.Message
		msg, err = s.broker.app.CreateMessage(ctx, s.user, s.room.ID, frame.Message, "")
		if err == nil {
			event = newMessageEvent(msg)
		}
	case FrameUpdate:
		var msg domain.Message
		msg, err = s.broker.app.UpdateMessage(ctx, s.user, frame.MessageID, frame.Message)
		if err == nil {
			event = updateMessageEvent(msg)
		}
	case FrameDelete:
		var msg domain.Message
		msg, err = s.broker.app.DeleteMessage(ctx, s.user, frame.MessageID)
		if err == nil {
			event = deleteMessageEvent(msg.ID)
		}
	default:
		s.deliver(errorFrame("unknown frame type"))
		return
	}
	if err != nil {
		s.deliver(errorFrame(errorMessage(err)))
		return
	}
	s.publish(ctx, event)
}

// publish is the dual-path delivery: immediate in-process broadcast to
// co-located sessions, plus the durable stream append that reaches
// other processes and replay readers. Consumers drop their own stream
// entries so each client sees each event exactly once.
func (s *Session) publish(ctx context.Context, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		s.broker.log.Error("event marshal failed", "room_id", s.room.ID, "error", err)
		return
	}
	s.broker.group(s.room.ID).broadcast(data)

	fields := map[string]string{
		"data":          string(data),
		"consumer_name": s.consumerName,
		"timestamp":     timestamp(time.Now()),
	}
	if _, err := s.broker.streams.Append(ctx, s.streamKey, fields); err != nil {
		s.broker.log.Error("stream append failed", "stream", s.streamKey, "error", err)
	}
}

// runFanout reads the room stream with group semantics and relays
// entries produced elsewhere to this client. Entries stamped by this
// session or any co-located one are acked and dropped; the in-process
// broadcast already delivered those.
func (s *Session) runFanout(ctx context.Context) {
	defer close(s.done)
	cursors := map[string]string{s.streamKey: ">"}
	for {
		if ctx.Err() != nil {
			return
		}
		batches, err := s.broker.streams.ReadGroup(ctx, s.groupName, s.consumerName, cursors, s.broker.readCount, time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.broker.log.Warn("stream read failed", "stream", s.streamKey, "consumer", s.consumerName, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(readBackoff):
			}
			continue
		}
		for _, batch := range batches {
			for _, entry := range batch.Entries {
				producer := entry.Fields["consumer_name"]
				if producer != s.consumerName && !s.broker.isLocalProducer(s.room.ID, producer) {
					s.deliver([]byte(entry.Fields["data"]))
				}
				if err := s.broker.streams.Ack(ctx, s.streamKey, s.groupName, entry.ID); err != nil {
					s.broker.log.Warn("stream ack failed", "stream", s.streamKey, "id", entry.ID, "error", err)
				}
			}
		}
	}
}

// deliver queues a frame for the client, dropping it when the outbound
// queue is full rather than blocking the reader.
func (s *Session) deliver(data []byte) {
	select {
	case s.send <- data:
	default:
		s.broker.log.Warn("outbound queue full, dropping frame", "room_id", s.room.ID, "consumer", s.consumerName)
	}
}

// Disconnect tears the session down: cancels the fan-out reader, waits
// for it to finish its current ack, removes the stream consumer and
// leaves the broadcast group. Idempotent and best-effort.
func (s *Session) Disconnect() {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.broker.streams.RemoveConsumer(ctx, s.streamKey, s.groupName, s.consumerName); err != nil {
			s.broker.log.Warn("consumer cleanup failed", "consumer", s.consumerName, "error", err)
		}
		s.broker.leave(s.room.ID, s)
	})
}

// errorMessage extracts the caller-facing message from a service error.
func errorMessage(err error) string {
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal error"
}
