package backlog

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/core"
	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/store"
	"github.com/AntonStoeckl/stilt-pipeline-go/queue"
)

// Metric names as constants for consistency.
const (
	MetricEventBacklog       = "pipeline_event_backlog"
	MetricPendingSimulations = "pipeline_pending_simulations"
)

// StageEvents are the event names whose backlog drives a stage's scaling.
var StageEvents = []string{core.SceneCreatedEventName, core.MeteorologyMinimizedEventName}

// ErrInvalidInterval is returned by Run for non-positive refresh intervals.
var ErrInvalidInterval = errors.New("refresh interval must be positive")

// Snapshot is one reading of all backlogs.
type Snapshot struct {
	Events             map[string]int64 `json:"events"`
	PendingSimulations int64            `json:"pending_simulations"`
	TakenAt            time.Time        `json:"taken_at"`
}

// Reporter reads backlogs from the store and publishes them as gauges.
type Reporter struct {
	store   store.Store
	names   []string
	logger  queue.Logger
	events  *prometheus.GaugeVec
	pending prometheus.Gauge
}

// NewReporter creates a Reporter for the stage events. The gauges are not registered;
// call Register to register them with a registry.
func NewReporter(st store.Store, logger queue.Logger) *Reporter {
	return &Reporter{
		store:  st,
		names:  StageEvents,
		logger: logger,
		events: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: MetricEventBacklog,
				Help: "Number of committed, unprocessed events by event name",
			},
			[]string{"event_name"},
		),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricPendingSimulations,
			Help: "Number of simulations waiting for a worker",
		}),
	}
}

// Register registers all gauges with the given registry.
func (r *Reporter) Register(reg prometheus.Registerer) error {
	for _, c := range r.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}

	return nil
}

// Collectors returns all Prometheus collectors.
func (r *Reporter) Collectors() []prometheus.Collector {
	return []prometheus.Collector{r.events, r.pending}
}

// Snapshot reads the current backlogs without touching the gauges.
func (r *Reporter) Snapshot(ctx context.Context) (Snapshot, error) {
	snapshot := Snapshot{Events: make(map[string]int64, len(r.names)), TakenAt: time.Now().UTC()}

	for _, name := range r.names {
		n, err := r.store.BacklogCount(ctx, name)
		if err != nil {
			return Snapshot{}, err
		}
		snapshot.Events[name] = n
	}

	err := r.store.Transact(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		snapshot.PendingSimulations, err = tx.Simulations().CountPending(ctx)
		return err
	})
	if err != nil {
		return Snapshot{}, err
	}

	return snapshot, nil
}

// Refresh takes a snapshot and publishes it.
func (r *Reporter) Refresh(ctx context.Context) (Snapshot, error) {
	snapshot, err := r.Snapshot(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	for name, n := range snapshot.Events {
		r.events.WithLabelValues(name).Set(float64(n))
	}
	r.pending.Set(float64(snapshot.PendingSimulations))

	return snapshot, nil
}

// Run refreshes the gauges every interval until ctx ends. Failed refreshes keep the previous
// values and are logged.
func (r *Reporter) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := r.Refresh(ctx); err != nil && ctx.Err() == nil && r.logger != nil {
			r.logger.Warn("backlog refresh failed", "error", err.Error())
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Handler serves the registry's metrics in the Prometheus exposition format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
