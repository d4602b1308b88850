// Package broadcast pushes full notice snapshots to connected viewers.
//
// Every viewer gets its own writer goroutine and a one-slot mailbox. A newer
// snapshot replaces an undelivered older one, and snapshots never go out of
// publish order, so a slow viewer skips intermediate states instead of
// delaying anybody else.
package broadcast

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/oszuidwest/zwfm-noticeboard/internal/models"
	"github.com/oszuidwest/zwfm-noticeboard/pkg/logger"
)

// ErrHubClosed is returned by Subscribe after Close.
var ErrHubClosed = errors.New("broadcast hub closed")

// Snapshot is one push to a viewer: the complete notice list it should display.
type Snapshot struct {
	Seq     uint64          `json:"seq"`
	Notices []models.Notice `json:"notices"`
}

// Connection is the transport to a single viewer.
type Connection interface {
	// Send delivers a snapshot. An error ends the subscription.
	Send(ctx context.Context, snapshot Snapshot) error
}

// SnapshotSource loads the current notices for a new subscriber.
type SnapshotSource interface {
	List(ctx context.Context, department *string) ([]models.Notice, error)
}

// Hub is the registry of connected viewers.
type Hub struct {
	source SnapshotSource

	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	seq    uint64
	closed bool
}

// NewHub creates a hub that reads initial snapshots from source.
func NewHub(source SnapshotSource) *Hub {
	return &Hub{
		source: source,
		subs:   make(map[uint64]*Subscription),
	}
}

// Subscription is one registered viewer.
type Subscription struct {
	id         uint64
	hub        *Hub
	conn       Connection
	department *string

	ctx    context.Context
	cancel context.CancelFunc
	wake   chan struct{}
	done   chan struct{}

	mu       sync.Mutex
	pending  *Snapshot
	accepted bool
	highest  uint64
}

// ID identifies the subscription for Unsubscribe.
func (s *Subscription) ID() uint64 {
	return s.id
}

// Done is closed once the subscription's writer has stopped, whether through
// Unsubscribe, Close or a failed send.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Subscribe registers conn and sends it the current snapshot, filtered by
// department when one is given. The registration happens before the snapshot
// is read so no publish in between is missed.
func (h *Hub) Subscribe(ctx context.Context, conn Connection, department *string) (*Subscription, error) {
	var dept *string
	if department != nil {
		d := strings.ToLower(strings.TrimSpace(*department))
		dept = &d
	}

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &Subscription{
		hub:        h,
		conn:       conn,
		department: dept,
		ctx:        subCtx,
		cancel:     cancel,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		cancel()
		return nil, ErrHubClosed
	}
	h.nextID++
	sub.id = h.nextID
	seq := h.seq
	h.subs[sub.id] = sub
	h.mu.Unlock()

	go sub.run()

	notices, err := h.source.List(ctx, dept)
	if err != nil {
		h.Unsubscribe(sub.id)
		return nil, err
	}
	sub.offer(Snapshot{Seq: seq, Notices: notices})

	logger.Debug("Viewer %d subscribed (department=%s)", sub.id, describe(dept))
	return sub, nil
}

// Unsubscribe removes the registration and waits for its writer to stop.
// Unknown or already removed ids are ignored.
func (h *Hub) Unsubscribe(id uint64) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	delete(h.subs, id)
	h.mu.Unlock()

	if !ok {
		return
	}
	sub.cancel()
	<-sub.done
	logger.Debug("Viewer %d unsubscribed", id)
}

// Publish offers the full notice list to every viewer, filtered by each
// viewer's department, and returns the number of viewers it was offered to.
// It never blocks on viewer I/O.
func (h *Hub) Publish(notices []models.Notice) int {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return 0
	}
	h.seq++
	seq := h.seq
	subs := make([]*Subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.offer(Snapshot{Seq: seq, Notices: filter(notices, sub.department)})
	}
	return len(subs)
}

// Count returns the number of connected viewers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close unsubscribes every viewer and rejects new subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := h.subs
	h.subs = make(map[uint64]*Subscription)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.cancel()
	}
	for _, sub := range subs {
		<-sub.done
	}
}

// detach drops a subscription whose writer stopped on its own.
func (h *Hub) detach(sub *Subscription) {
	h.mu.Lock()
	if h.subs[sub.id] == sub {
		delete(h.subs, sub.id)
	}
	h.mu.Unlock()
}

// offer places snapshot in the mailbox unless something at least as new was already accepted.
func (s *Subscription) offer(snapshot Snapshot) {
	s.mu.Lock()
	if s.accepted && snapshot.Seq <= s.highest {
		s.mu.Unlock()
		return
	}
	s.accepted = true
	s.highest = snapshot.Seq
	s.pending = &snapshot
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) run() {
	defer close(s.done)
	defer s.hub.detach(s)
	defer s.cancel()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
		}

		s.mu.Lock()
		snapshot := s.pending
		s.pending = nil
		s.mu.Unlock()
		if snapshot == nil {
			continue
		}

		if err := s.conn.Send(s.ctx, *snapshot); err != nil {
			if s.ctx.Err() == nil {
				logger.Debug("Dropping viewer %d after failed send: %v", s.id, err)
			}
			return
		}
	}
}

func filter(notices []models.Notice, department *string) []models.Notice {
	out := make([]models.Notice, 0, len(notices))
	for _, n := range notices {
		if department == nil || strings.EqualFold(n.Department, *department) {
			out = append(out, n)
		}
	}
	return out
}

func describe(department *string) string {
	if department == nil {
		return "all"
	}
	return *department
}
