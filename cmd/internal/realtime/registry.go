package realtime

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const defaultFanout = 64

// Entry is one admitted connection.
type Entry struct {
	ID          string
	Channel     Channel
	ConnectedAt time.Time
}

// target is an entry captured for delivery outside the lock.
type target struct {
	userID string
	entry  Entry
}

// delivery is the outcome of one send attempt.
type delivery struct {
	userID  string
	connID  string
	channel Channel
	err     error
	skipped bool
}

// Registry maps user ids to their live connections.
//
// All map access happens under mu; no I/O is done while holding it. Sends snapshot the
// targets, deliver without the lock and then evict failed entries under the lock again.
type Registry struct {
	mu    sync.Mutex
	conns map[string][]Entry
	n     int

	emptied func(userID string)

	log     *slog.Logger
	metrics *Metrics
	fanout  int
	now     func() time.Time
}

type RegistryOption func(*Registry)

func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

func WithRegistryMetrics(m *Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// WithFanout bounds the number of concurrent sends per delivery.
func WithFanout(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.fanout = n
		}
	}
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		conns:  make(map[string][]Entry),
		log:    slog.Default(),
		fanout: defaultFanout,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Connect admits ch for userID and returns its connection id.
func (r *Registry) Connect(userID string, ch Channel) string {
	id, _ := r.connect(userID, ch)
	return id
}

// connect also reports whether this is the user's only connection, decided under mu.
func (r *Registry) connect(userID string, ch Channel) (string, bool) {
	e := Entry{
		ID:          uuid.NewString(),
		Channel:     ch,
		ConnectedAt: r.now().UTC(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[userID] = append(r.conns[userID], e)
	r.n++
	r.metrics.setConnections(r.n)
	return e.ID, len(r.conns[userID]) == 1
}

// Disconnect removes one connection. It reports whether the entry was present;
// repeating it is harmless.
func (r *Registry) Disconnect(userID, connID string) bool {
	removed, _ := r.disconnect(userID, connID)
	return removed
}

// disconnect also reports whether the removal left the user without connections.
func (r *Registry) disconnect(userID, connID string) (removed, last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed = r.removeLocked(userID, connID)
	if removed {
		r.metrics.setConnections(r.n)
	}
	_, still := r.conns[userID]
	return removed, removed && !still
}

// onEmpty registers fn to run, on its own goroutine, whenever eviction removes a user's
// last connection.
func (r *Registry) onEmpty(fn func(userID string)) {
	r.mu.Lock()
	r.emptied = fn
	r.mu.Unlock()
}

// SendToUser delivers msg to every connection of userID and returns the number of
// successful deliveries. Failed connections are evicted.
func (r *Registry) SendToUser(ctx context.Context, userID string, msg Message) int {
	r.mu.Lock()
	targets := make([]target, 0, len(r.conns[userID]))
	for _, e := range r.conns[userID] {
		targets = append(targets, target{userID: userID, entry: e})
	}
	r.mu.Unlock()

	return r.deliver(ctx, targets, msg)
}

// Broadcast delivers msg to every connection of every user and returns the number of
// successful deliveries. A failure only evicts the connection it happened on.
func (r *Registry) Broadcast(ctx context.Context, msg Message) int {
	r.mu.Lock()
	targets := make([]target, 0, r.n)
	for userID, entries := range r.conns {
		for _, e := range entries {
			targets = append(targets, target{userID: userID, entry: e})
		}
	}
	r.mu.Unlock()

	return r.deliver(ctx, targets, msg)
}

// ConnectionsOf returns a snapshot of userID's connection ids.
func (r *Registry) ConnectionsOf(userID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.conns[userID]
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}

// Users returns the ids of users with at least one connection, sorted.
func (r *Registry) Users() []string {
	r.mu.Lock()
	out := make([]string, 0, len(r.conns))
	for userID := range r.conns {
		out = append(out, userID)
	}
	r.mu.Unlock()

	sort.Strings(out)
	return out
}

// Len is the total number of connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

// deliver sends msg to targets. A message that cannot be encoded reaches nobody and evicts
// nobody. Sends abandoned because ctx ended are not failures of the connection.
func (r *Registry) deliver(ctx context.Context, targets []target, msg Message) int {
	if len(targets) == 0 {
		return 0
	}

	msg, err := msg.prepared()
	if err != nil {
		r.log.Warn("realtime.encode.failed", "targets", len(targets), "err", err)
		return 0
	}

	results := make([]delivery, len(targets))

	var g errgroup.Group
	g.SetLimit(r.fanout)
	for i, t := range targets {
		g.Go(func() error {
			d := delivery{userID: t.userID, connID: t.entry.ID, channel: t.entry.Channel}
			if ctx.Err() != nil {
				d.skipped = true
			} else {
				d.err = d.channel.Send(ctx, msg)
				d.skipped = d.err != nil && ctx.Err() != nil
			}
			results[i] = d
			return nil
		})
	}
	_ = g.Wait()

	var failed []delivery
	ok, skipped := 0, 0
	for _, d := range results {
		switch {
		case d.skipped:
			skipped++
		case d.err != nil:
			failed = append(failed, d)
		default:
			ok++
		}
	}

	r.metrics.delivered(ok, len(failed))
	if skipped > 0 {
		r.log.Debug("realtime.delivery.abandoned", "skipped", skipped, "err", ctx.Err())
	}
	if len(failed) > 0 {
		r.evict(failed)
	}
	return ok
}

// evict drops failed entries and closes their channels so the owners tear the sockets down.
func (r *Registry) evict(failed []delivery) {
	var emptied []string

	r.mu.Lock()
	evicted := 0
	for _, d := range failed {
		if !r.removeLocked(d.userID, d.connID) {
			continue
		}
		evicted++
		if _, still := r.conns[d.userID]; !still {
			emptied = append(emptied, d.userID)
		}
	}
	r.metrics.setConnections(r.n)
	hook := r.emptied
	r.mu.Unlock()

	for _, d := range failed {
		d.channel.Close()
		r.log.Debug("realtime.delivery.failed", "user_id", d.userID, "conn_id", d.connID, "err", d.err)
	}
	r.metrics.evicted(evicted)

	if hook != nil {
		for _, userID := range emptied {
			go hook(userID)
		}
	}
}

func (r *Registry) removeLocked(userID, connID string) bool {
	entries, ok := r.conns[userID]
	if !ok {
		return false
	}
	for i, e := range entries {
		if e.ID != connID {
			continue
		}
		entries = append(entries[:i:i], entries[i+1:]...)
		if len(entries) == 0 {
			delete(r.conns, userID)
		} else {
			r.conns[userID] = entries
		}
		r.n--
		return true
	}
	return false
}
