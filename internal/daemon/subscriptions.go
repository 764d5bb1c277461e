package daemon

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/loopwork/beacon/internal/bus"
	"github.com/loopwork/beacon/internal/observability"
	"github.com/loopwork/beacon/internal/protocol"
)

// Subscription stream categories and their notification methods.
const (
	SubLogs          = "logs"
	SubAgentOutput   = "agent.output"
	SubChannelEvents = "events.channel"
	SubLifecycle     = "events.lifecycle"
)

var notificationMethods = map[string]string{
	SubLogs:          "log",
	SubAgentOutput:   "agent.output",
	SubChannelEvents: "event.channel",
	SubLifecycle:     "event.lifecycle",
}

// outboxCapacity bounds each subscription's pending notifications.
const outboxCapacity = 256

// subscription is one live stream binding on one connection. done stops
// the writer on release; stop joins the writer so no notification is
// delivered after unsubscribe returns, even when values are still
// buffered.
type subscription struct {
	id         string
	typ        string
	conn       *connection
	cancel     func()
	done       chan struct{}
	writerDone chan struct{}
}

func (sub *subscription) stop() {
	select {
	case <-sub.done:
	default:
		close(sub.done)
	}
	sub.cancel()
	<-sub.writerDone
}

// Subscriptions owns every live subscription, keyed by id and by
// connection. Delivery is one goroutine per subscription reading a bus
// stream, so notifications stay FIFO relative to their source.
type Subscriptions struct {
	logger  *slog.Logger
	metrics *observability.Metrics

	mu     sync.Mutex
	byID   map[string]*subscription
	byConn map[*connection]map[string]*subscription
}

// NewSubscriptions creates an empty subscription set.
func NewSubscriptions(logger *slog.Logger, metrics *observability.Metrics) *Subscriptions {
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriptions{
		logger:  logger.With("component", "subscriptions"),
		metrics: metrics,
		byID:    make(map[string]*subscription),
		byConn:  make(map[*connection]map[string]*subscription),
	}
}

// PolicyFor returns the back-pressure policy for a stream category:
// agent.output blocks the producer so tail consumers never miss frames;
// everything else drops oldest.
func PolicyFor(typ string) bus.OverflowPolicy {
	if typ == SubAgentOutput {
		return bus.Block
	}
	return bus.DropOldest
}

// Attach registers a delivery stream for conn and starts its writer.
// source is the stream the caller opened with PolicyFor(typ);
// disposeSource must end it. replay entries are written before any live
// value. A non-nil keep drops values it rejects inside the writer, so a
// filtered subscription never applies back-pressure to the source.
func Attach[T any](s *Subscriptions, conn *connection, typ string, source <-chan T, disposeSource func(), replay []T, keep func(T) bool) string {
	id := uuid.NewString()
	sub := &subscription{
		id:         id,
		typ:        typ,
		conn:       conn,
		cancel:     disposeSource,
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}

	s.mu.Lock()
	s.byID[id] = sub
	if s.byConn[conn] == nil {
		s.byConn[conn] = make(map[string]*subscription)
	}
	s.byConn[conn][id] = sub
	s.mu.Unlock()

	method := notificationMethods[typ]
	go func() {
		defer close(sub.writerDone)
		for _, v := range replay {
			select {
			case <-sub.done:
				return
			default:
			}
			s.deliver(sub, method, v)
		}
		for {
			select {
			case <-sub.done:
				return
			case v, ok := <-source:
				if !ok {
					return
				}
				if keep != nil && !keep(v) {
					continue
				}
				// done may have closed while this value was in flight.
				select {
				case <-sub.done:
					return
				default:
				}
				s.deliver(sub, method, v)
			}
		}
	}()

	s.logger.Debug("subscription attached", "id", id, "type", typ, "conn", conn.id)
	return id
}

func (s *Subscriptions) deliver(sub *subscription, method string, v any) {
	err := sub.conn.sendNotification(method, v)
	if s.metrics != nil {
		outcome := "delivered"
		if err != nil {
			outcome = "dropped"
		}
		s.metrics.Notifications.WithLabelValues(sub.typ, outcome).Inc()
	}
	if err != nil {
		s.logger.Debug("notification write failed", "id", sub.id, "error", err)
	}
}

// Release removes a subscription by id. Unknown and foreign ids succeed
// silently per the subscribe contract.
func (s *Subscriptions) Release(conn *connection, id string) {
	s.mu.Lock()
	sub, ok := s.byID[id]
	if !ok || sub.conn != conn {
		s.mu.Unlock()
		return
	}
	delete(s.byID, id)
	delete(s.byConn[conn], id)
	s.mu.Unlock()

	sub.stop()
	s.logger.Debug("subscription released", "id", id)
}

// ReleaseConnection drops every subscription owned by conn.
func (s *Subscriptions) ReleaseConnection(conn *connection) {
	s.mu.Lock()
	subs := s.byConn[conn]
	delete(s.byConn, conn)
	for id := range subs {
		delete(s.byID, id)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
}

// Count reports the live subscriptions.
func (s *Subscriptions) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// Close releases everything.
func (s *Subscriptions) Close() {
	s.mu.Lock()
	subs := make([]*subscription, 0, len(s.byID))
	for _, sub := range s.byID {
		subs = append(subs, sub)
	}
	s.byID = make(map[string]*subscription)
	s.byConn = make(map[*connection]map[string]*subscription)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
}

// validType reports whether typ names a stream category.
func validType(typ string) error {
	if _, ok := notificationMethods[typ]; !ok {
		return protocol.Errorf(protocol.CodeInvalidParams, "unknown subscription type %q", typ)
	}
	return nil
}
