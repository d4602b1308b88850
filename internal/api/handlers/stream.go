package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	"github.com/oszuidwest/zwfm-noticeboard/internal/broadcast"
	"github.com/oszuidwest/zwfm-noticeboard/pkg/logger"
)

// EventUpdateNotices names the SSE event carrying a full notice snapshot.
const EventUpdateNotices = "update_notices"

// sseConnection writes snapshots to one event stream. The hub's writer
// goroutine and the heartbeat share the response, so writes are serialized.
// Every write carries a deadline so a stalled viewer cannot hold the writer.
type sseConnection struct {
	mu      sync.Mutex
	w       io.Writer
	rc      *http.ResponseController
	timeout time.Duration
	closed  <-chan struct{}
}

func newSSEConnection(w http.ResponseWriter, closed <-chan struct{}, timeout time.Duration) *sseConnection {
	return &sseConnection{
		w:       w,
		rc:      http.NewResponseController(w),
		timeout: timeout,
		closed:  closed,
	}
}

// Send implements broadcast.Connection.
func (s *sseConnection) Send(_ context.Context, snapshot broadcast.Snapshot) error {
	return s.write(func(w io.Writer) error {
		return sse.Encode(w, sse.Event{
			Event: EventUpdateNotices,
			Id:    strconv.FormatUint(snapshot.Seq, 10),
			Data: StreamEvent{
				Seq:     snapshot.Seq,
				Notices: toNoticeResponses(snapshot.Notices),
			},
		})
	})
}

func (s *sseConnection) heartbeat() error {
	return s.write(func(w io.Writer) error {
		_, err := io.WriteString(w, ": keepalive\n\n")
		return err
	})
}

func (s *sseConnection) write(fn func(io.Writer) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.closed:
		return context.Canceled
	default:
	}
	if s.timeout > 0 {
		err := s.rc.SetWriteDeadline(time.Now().Add(s.timeout))
		if err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
	}
	if err := fn(s.w); err != nil {
		return err
	}
	return s.rc.Flush()
}

// clearDeadline lifts the write deadline once the stream is over.
func (s *sseConnection) clearDeadline() {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.rc.SetWriteDeadline(time.Time{})
}

// StreamNotices streams live board updates as Server-Sent Events. The
// current snapshot is sent immediately, then one event per change, filtered
// by the optional ?department= query.
func (h *Handlers) StreamNotices(c *gin.Context) {
	ctx := c.Request.Context()

	c.Header("Content-Type", sse.ContentType)
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	conn := newSSEConnection(c.Writer, ctx.Done(), h.opts.WriteTimeout)
	defer conn.clearDeadline()

	sub, err := h.streams.Subscribe(ctx, conn, departmentQuery(c))
	if err != nil {
		logger.Error("Failed to subscribe viewer: %v", err)
		return
	}
	// The writer goroutine must be gone before the response is released
	defer h.streams.Unsubscribe(sub.ID())

	var tick <-chan time.Time
	if h.opts.Heartbeat > 0 {
		ticker := time.NewTicker(h.opts.Heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			return
		case <-tick:
			if err := conn.heartbeat(); err != nil {
				return
			}
		}
	}
}
