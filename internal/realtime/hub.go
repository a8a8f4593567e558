// Package realtime fans newly inserted audit rows out to dashboard clients.
//
// A Listener turns the database change feed into AuditView values and hands
// them to a Hub; websocket subscribers receive only rows for the job they
// opened the stream on.
package realtime

import (
	"sync"

	"fieldops/internal/compliance/metrics"
	"fieldops/internal/compliance/models"
	id "fieldops/pkg/domain"
)

const defaultBuffer = 64

// Subscription receives audits for one (company, job) pair.
type Subscription struct {
	companyID id.CompanyID
	jobID     id.JobID
	ch        chan models.AuditView
}

// C is closed when the subscription is removed or the hub shuts down.
func (s *Subscription) C() <-chan models.AuditView { return s.ch }

type Hub struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	closed  bool
	metrics *metrics.Metrics
}

type HubOption func(*Hub)

func WithHubMetrics(m *metrics.Metrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

func NewHub(opts ...HubOption) *Hub {
	h := &Hub{subs: make(map[*Subscription]struct{})}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe registers interest in a job's audits. A non-positive buffer uses
// the default.
func (h *Hub) Subscribe(companyID id.CompanyID, jobID id.JobID, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	sub := &Subscription{companyID: companyID, jobID: jobID, ch: make(chan models.AuditView, buffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.ch)
		return sub
	}
	h.subs[sub] = struct{}{}
	h.metrics.AddSubscribers(1)
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.ch)
	h.metrics.AddSubscribers(-1)
}

// Publish delivers the audit to every matching subscriber without blocking.
// Slow subscribers lose the message. Returns the number of deliveries.
func (h *Hub) Publish(audit models.AuditView) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for sub := range h.subs {
		if sub.companyID != audit.CompanyID || sub.jobID != audit.JobID {
			continue
		}
		select {
		case sub.ch <- audit:
			delivered++
		default:
			h.metrics.IncStreamDropped()
		}
	}
	return delivered
}

// Subscribers reports the number of open subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close ends every subscription. Later subscriptions are returned already closed.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		close(sub.ch)
		h.metrics.AddSubscribers(-1)
	}
	h.subs = map[*Subscription]struct{}{}
}

// PublishAudit adapts an insert callback (such as the in-memory store's hook)
// to the hub.
func (h *Hub) PublishAudit(a models.Audit) {
	h.Publish(models.NewAuditView(a))
}
