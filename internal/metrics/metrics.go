// Package metrics exposes the cluster's Prometheus metrics and the
// concrete MetricsSink implementations internal/cache and
// internal/controller report through. Grounded on
// adred-codev-ws_poc/ws/metrics.go's metric-set shape (gauges/counters
// registered up front, updated from small Record*/Update* methods),
// adapted from that file's package-global vars + http.HandleFunc into a
// struct owned by the composition root, and from its connection/disconnect
// labels into this cluster's shard/guild/status labels.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gearbot/GearBot-2/internal/cache"
	"github.com/gearbot/GearBot-2/internal/controller"
	"github.com/gearbot/GearBot-2/internal/snowflake"
)

// Registry owns every gauge/counter this cluster exports. cache.Cache and
// controller.Controller see it only through their own narrow Sink
// interfaces, so neither package imports this one.
type Registry struct {
	reg *prometheus.Registry

	guildStates *prometheus.GaugeVec
	members     prometheus.Gauge
	users       prometheus.Gauge
	status      *prometheus.GaugeVec

	gatewayEvents *prometheus.CounterVec
	backfillDone  *prometheus.GaugeVec
}

// New builds and registers the metric set on a fresh registry.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		guildStates: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gearbot_guild_cache_state",
			Help: "1 for a guild's current cache state, labeled per shard/guild/state; all other states for that guild are 0",
		}, []string{"shard", "guild_id", "state"}),
		members: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gearbot_members",
			Help: "Total number of cached members across all guilds",
		}),
		users: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gearbot_users",
			Help: "Total number of distinct users referenced by at least one cached member",
		}),
		status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gearbot_status",
			Help: "1 for the instance's current lifecycle status, 0 for all others",
		}, []string{"status"}),
		gatewayEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gearbot_gateway_events_total",
			Help: "Total gateway events received, by shard and event type",
		}, []string{"shard", "event"}),
		backfillDone: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gearbot_shard_backfilled",
			Help: "1 once a shard has finished its initial member backfill",
		}, []string{"shard"}),
	}

	r.reg.MustRegister(
		r.guildStates,
		r.members,
		r.users,
		r.status,
		r.gatewayEvents,
		r.backfillDone,
	)
	return r
}

// Handler returns the /metrics HTTP handler for this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// RecordGatewayEvent increments the per-shard/per-event-type counter.
func (r *Registry) RecordGatewayEvent(shard int, event string) {
	r.gatewayEvents.WithLabelValues(shardLabel(shard), event).Inc()
}

// SetShardBackfilled flips the per-shard backfill-complete gauge.
func (r *Registry) SetShardBackfilled(shard int) {
	r.backfillDone.WithLabelValues(shardLabel(shard)).Set(1)
}

// CacheSink returns a cache.MetricsSink reporting into this registry.
func (r *Registry) CacheSink() cache.MetricsSink {
	return cacheSink{r: r}
}

// ControllerSink returns a controller.MetricsSink reporting into this
// registry.
func (r *Registry) ControllerSink() controller.MetricsSink {
	return controllerSink{r: r}
}

type cacheSink struct{ r *Registry }

func (s cacheSink) SetGuildState(shard int, guildID snowflake.ID, old, newState cache.State) {
	sh := shardLabel(shard)
	gid := guildID.String()
	if old != newState {
		s.r.guildStates.WithLabelValues(sh, gid, old.String()).Set(0)
	}
	s.r.guildStates.WithLabelValues(sh, gid, newState.String()).Set(1)
}

// ClearGuildState zeros a guild's current-state gauge with no replacement
// label, used when a guild is dropped outright (not transitioned to
// another tracked state) so its gauge doesn't stay pinned at 1 forever.
func (s cacheSink) ClearGuildState(shard int, guildID snowflake.ID, state cache.State) {
	s.r.guildStates.WithLabelValues(shardLabel(shard), guildID.String(), state.String()).Set(0)
}

func (s cacheSink) SetMembers(delta int) {
	s.r.members.Add(float64(delta))
}

func (s cacheSink) SetUsers(delta int) {
	s.r.users.Add(float64(delta))
}

type controllerSink struct{ r *Registry }

func (s controllerSink) SetStatus(old, newStatus controller.Status) {
	if old != newStatus {
		s.r.status.WithLabelValues(old.String()).Set(0)
	}
	s.r.status.WithLabelValues(newStatus.String()).Set(1)
}

func shardLabel(shard int) string {
	return strconv.Itoa(shard)
}
