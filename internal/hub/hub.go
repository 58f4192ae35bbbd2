// Package hub is the coordination core: it owns the session registry, the SOS
// lifecycle and the geofence tracker, validates inbound commands and fans the
// resulting events out to observers. Transports talk to it through Dispatch and
// registry.Conn; the hub never imports them.
package hub

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"github.com/safetyhub/internal/geofence"
	"github.com/safetyhub/internal/logger"
	"github.com/safetyhub/internal/metrics"
	"github.com/safetyhub/internal/model"
	"github.com/safetyhub/internal/registry"
	"github.com/safetyhub/internal/sos"
	"github.com/safetyhub/internal/storage"
)

// Notifier delivers subject-directed alerts outside the live connection
// (Web Push). Calls for one subject are sequential and in event order.
type Notifier interface {
	Notify(ctx context.Context, subjectID string, ev model.Event)
}

type Options struct {
	HeartbeatInterval time.Duration
	LivenessTimeout   time.Duration
	SweepInterval     time.Duration
	// SOSForceResolveAfter > 0 resolves open signals whose subject has been
	// gone that long.
	SOSForceResolveAfter time.Duration
	StatsInterval        time.Duration
	MaxConnections       int
	// PushEnabled is advertised to clients in connection_ack.
	PushEnabled bool
	Now         func() time.Time
}

func (o *Options) setDefaults() {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 10 * time.Second
	}
	if o.LivenessTimeout <= 0 {
		o.LivenessTimeout = 3 * o.HeartbeatInterval
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = 5 * time.Second
	}
	if o.StatsInterval <= 0 {
		o.StatsInterval = 30 * time.Second
	}
	if o.MaxConnections <= 0 {
		o.MaxConnections = 10000
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

type Hub struct {
	opts     Options
	registry *registry.Registry
	sos      *sos.Manager
	geo      *geofence.Tracker
	store    storage.Store
	notify   *notifyQueue
	metrics  *metrics.Metrics
	validate *validator.Validate

	// gate orders snapshots against incremental events: mutations hold RLock
	// while they change state and emit, snapshots hold Lock.
	gate  sync.RWMutex
	locks *keyedMutex

	startedAt   time.Time
	connections atomic.Int64
	dropped     atomic.Int64

	done chan struct{}
}

// New builds a hub. notifier may be nil.
func New(opts Options, zones []model.GeofenceZone, store storage.Store, notifier Notifier, m *metrics.Metrics) *Hub {
	opts.setDefaults()
	h := &Hub{
		opts:      opts,
		registry:  registry.New(opts.LivenessTimeout, opts.Now),
		sos:       sos.NewManager(opts.Now),
		geo:       geofence.NewTracker(zones),
		store:     store,
		metrics:   m,
		validate:  newValidator(),
		locks:     newKeyedMutex(),
		startedAt: opts.Now(),
		done:      make(chan struct{}),
	}
	if notifier != nil {
		h.notify = newNotifyQueue(notifier, notifyQueueSize)
	}
	// Severity history goes with the rest of a departed subject's state.
	h.registry.OnExpire(h.geo.Forget)
	return h
}

// Run drives the liveness sweep and the stats job until ctx is cancelled, then
// closes every connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	stats := cron.New(cron.WithChain(cron.Recover(cronLogger{})))
	if _, err := stats.AddFunc(everySpec(h.opts.StatsInterval), h.publishStats); err != nil {
		logger.Errorf("hub: schedule stats job: %v", err)
	}
	stats.Start()

	ticker := time.NewTicker(h.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			<-stats.Stop().Done()
			h.shutdown()
			return
		case <-ticker.C:
			h.Sweep()
		}
	}
}

// Done is closed when Run returns.
func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) shutdown() {
	h.gate.Lock()
	conns := h.registry.Drain()
	h.gate.Unlock()
	// I/O outside the lock.
	for _, c := range conns {
		c.Close()
	}
	h.WaitNotifications()
	logger.Infof("hub: closed %d connections", len(conns))
}

// WaitNotifications blocks until every queued notification has been delivered.
func (h *Hub) WaitNotifications() {
	if h.notify != nil {
		h.notify.wait()
	}
}

func (h *Hub) Zones() []model.GeofenceZone { return h.geo.Zones() }

// Snapshot returns the observer view of the hub at one instant.
func (h *Hub) Snapshot() SnapshotPayload {
	h.gate.RLock()
	defer h.gate.RUnlock()
	return h.snapshot()
}

func (h *Hub) snapshot() SnapshotPayload {
	return SnapshotPayload{
		Users: h.registry.List(model.RoleSubject),
		SOS:   h.sos.Open(),
		Stats: h.stats(),
	}
}

func (h *Hub) stats() model.Stats {
	subjects, observers := h.registry.Counts()
	total, open := h.sos.Counts()
	return model.Stats{
		ActiveCount: subjects + observers,
		TotalCount:  h.connections.Load(),
		TotalSOS:    total,
		OpenSOS:     open,
		Subjects:    subjects,
		Observers:   observers,
		StartedAt:   h.startedAt,
	}
}

// Dropped is the number of outbound events discarded so far.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// keyedMutex serializes work per subject id. Entries are dropped when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyLock)}
}

// Lock acquires the lock for key and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
