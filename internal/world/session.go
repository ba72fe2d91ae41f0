package world

import (
	"time"

	"infinityworld.gg/internal/protocol"
)

// session is one connected (or gracing) client's room membership. Owned by
// the room goroutine; the only concurrent touch point is the out channel,
// which the transport's writer drains.
type session struct {
	id       string
	playerID int64
	name     string

	// out receives marshaled server->client frames. nil while the session
	// is inside its grace window with no transport attached.
	out chan []byte

	view        ViewSet
	resumeToken string

	// graceTimer is armed on an unconsented leave and fires session
	// teardown unless the client resumes first.
	graceTimer *time.Timer

	// pending accumulates events during one intent and is flushed as a
	// single batch afterwards.
	pending []protocol.Event
}

func (s *session) attached() bool { return s.out != nil }

func (s *session) queueEvent(ev protocol.Event) {
	if s.out == nil {
		return
	}
	s.pending = append(s.pending, ev)
}
