package changefeed

import (
	"context"
	"errors"
	"sync"

	"github.com/angelmondragon/todolimpio-backend/internal/gateway"
	"github.com/angelmondragon/todolimpio-backend/pkg/logger"
	"github.com/angelmondragon/todolimpio-backend/pkg/metrics"
)

const defaultBufferSize = 64

var ErrHubClosed = errors.New("change feed hub closed")

// Hub fans committed change events out to in-process subscribers. Publish
// never blocks: a subscriber whose buffer is full is closed with
// gateway.ErrLagged and must resubscribe.
type Hub struct {
	mu      sync.RWMutex
	subs    map[*subscription]struct{}
	closed  bool
	buffer  int
	metrics *metrics.FeedMetrics
	logg    *logger.Logger
}

func NewHub(bufferSize int, m *metrics.FeedMetrics, logg *logger.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if m == nil {
		m = metrics.NewFeedMetrics(nil)
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Hub{
		subs:    make(map[*subscription]struct{}),
		buffer:  bufferSize,
		metrics: m,
		logg:    logg,
	}
}

// Subscribe registers a scoped subscription. It is released when ctx ends.
func (h *Hub) Subscribe(ctx context.Context, table gateway.Table, filters ...gateway.Filter) (gateway.Subscription, error) {
	sub := &subscription{
		hub:     h,
		table:   table,
		filters: append([]gateway.Filter(nil), filters...),
		events:  make(chan gateway.ChangeEvent, h.buffer),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	h.metrics.SubscriptionOpened(string(table))
	stop := context.AfterFunc(ctx, sub.Release)
	sub.mu.Lock()
	sub.stop = stop
	sub.mu.Unlock()
	return sub, nil
}

// Publish delivers ev to every matching subscriber.
func (h *Hub) Publish(ctx context.Context, ev gateway.ChangeEvent) {
	var lagged []*subscription

	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return
	}
	for sub := range h.subs {
		if !ev.Matches(sub.table, sub.filters) {
			continue
		}
		select {
		case sub.events <- ev:
		default:
			lagged = append(lagged, sub)
		}
	}
	h.mu.RUnlock()

	h.metrics.IncPublished(string(ev.Table), string(ev.Type))
	for _, sub := range lagged {
		h.metrics.IncLagged(string(sub.table))
		h.logg.Warn(h.logg.WithFields(ctx, map[string]any{
			"table":    sub.table,
			"event_id": ev.ID,
		}), "change feed subscriber lagged")
		sub.close(gateway.ErrLagged)
	}
}

// Len reports the number of open subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close ends every subscription with ErrHubClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := make([]*subscription, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.close(ErrHubClosed)
	}
}

// remove detaches sub and closes its channel under the hub lock, so no
// Publish can send on a closed channel. It reports whether sub was attached.
func (h *Hub) remove(sub *subscription) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; !ok {
		return false
	}
	delete(h.subs, sub)
	close(sub.events)
	return true
}

type subscription struct {
	hub     *Hub
	table   gateway.Table
	filters []gateway.Filter
	events  chan gateway.ChangeEvent
	stop    func() bool

	mu  sync.Mutex
	err error
}

func (s *subscription) Events() <-chan gateway.ChangeEvent {
	return s.events
}

// Release is idempotent.
func (s *subscription) Release() {
	s.close(nil)
}

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *subscription) close(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()

	if !s.hub.remove(s) {
		return
	}
	s.mu.Lock()
	stop := s.stop
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
	s.hub.metrics.SubscriptionClosed(string(s.table))
}
