// Package metrics exposes solver state to Prometheus.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/speedrun-hq/settler/config"
	"github.com/speedrun-hq/settler/listener"
	"github.com/speedrun-hq/settler/logging"
	"github.com/speedrun-hq/settler/signer"
)

const UpdateInterval = 15 * time.Second

// ListenerSource is a running listener.
type ListenerSource interface {
	Deployment() listener.Deployment
	Event() string
	Stats() listener.Stats
}

// NonceSource is the nonce keeper.
type NonceSource interface {
	Chains() []uint64
	Next(chainID uint64) (uint64, bool)
	Stats() signer.KeeperStats
}

// Service handles Prometheus metrics collection and exposition
type Service struct {
	eventsMapped       *prometheus.GaugeVec
	mappingFailures    *prometheus.GaugeVec
	handlerFailures    *prometheus.GaugeVec
	reconnectionCount  *prometheus.GaugeVec
	lastEventTimestamp *prometheus.GaugeVec
	nextNonce          *prometheus.GaugeVec
	noncesTotal        *prometheus.GaugeVec
	fillsTotal         *prometheus.CounterVec

	mu        sync.RWMutex
	listeners []ListenerSource
	nonces    NonceSource

	logger   zerolog.Logger
	registry *prometheus.Registry
}

func New(logger zerolog.Logger) *Service {
	chainLabels := []string{"chain_id", "chain_name"}
	listenerLabels := []string{"chain_id", "chain_name", "event"}

	s := &Service{
		eventsMapped: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "settler_events_mapped_total",
			Help: "Number of events mapped to intents and handled",
		}, listenerLabels),
		mappingFailures: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "settler_event_mapping_failures_total",
			Help: "Number of logs rejected because of an unexpected shape",
		}, listenerLabels),
		handlerFailures: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "settler_intent_handler_failures_total",
			Help: "Number of mapped intents the solver failed to handle",
		}, listenerLabels),
		reconnectionCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "settler_reconnections_total",
			Help: "Number of log subscription reconnections",
		}, listenerLabels),
		lastEventTimestamp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "settler_last_event_timestamp",
			Help: "Timestamp of the last handled event",
		}, listenerLabels),
		nextNonce: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "settler_next_nonce",
			Help: "Next nonce the solver account will use per chain",
		}, chainLabels),
		noncesTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "settler_nonce_reservations_total",
			Help: "Nonce reservations by outcome (committed or released)",
		}, []string{"outcome"}),
		fillsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settler_fills_total",
			Help: "Fill attempts by outcome",
		}, []string{"chain_id", "chain_name", "protocol", "outcome"}),
		logger:   logger.With().Str(logging.FieldModule, "metrics").Logger(),
		registry: prometheus.NewRegistry(),
	}

	s.registry.MustRegister(
		s.eventsMapped,
		s.mappingFailures,
		s.handlerFailures,
		s.reconnectionCount,
		s.lastEventTimestamp,
		s.nextNonce,
		s.noncesTotal,
		s.fillsTotal,
	)

	return s
}

// RegisterListener adds a listener to metrics collection
func (s *Service) RegisterListener(l ListenerSource) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.listeners = append(s.listeners, l)

	s.logger.Info().
		Uint64(logging.FieldChain, l.Deployment().ChainID).
		Str("event", l.Event()).
		Msg("Registered listener in metrics collector")
}

// RegisterNonceKeeper sets the nonce keeper to collect from
func (s *Service) RegisterNonceKeeper(n NonceSource) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nonces = n
}

// ObserveFill counts a fill attempt. It's called directly by the solver.
func (s *Service) ObserveFill(chainID uint64, protocol, outcome string) {
	s.fillsTotal.WithLabelValues(chainLabel(chainID), config.ChainName(chainID), protocol, outcome).Inc()
}

// UpdateMetrics collects and updates all polled metrics
func (s *Service) UpdateMetrics() {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, l := range s.listeners {
		var (
			chainID = l.Deployment().ChainID
			labels  = []string{chainLabel(chainID), config.ChainName(chainID), l.Event()}
			stats   = l.Stats()
		)

		s.eventsMapped.WithLabelValues(labels...).Set(float64(stats.Processed))
		s.mappingFailures.WithLabelValues(labels...).Set(float64(stats.ShapeErrors))
		s.handlerFailures.WithLabelValues(labels...).Set(float64(stats.HandlerErrors))
		s.reconnectionCount.WithLabelValues(labels...).Set(float64(stats.Reconnections))

		if !stats.LastEventTime.IsZero() {
			s.lastEventTimestamp.WithLabelValues(labels...).Set(float64(stats.LastEventTime.Unix()))
		}
	}

	if s.nonces == nil {
		return
	}

	for _, chainID := range s.nonces.Chains() {
		if next, ok := s.nonces.Next(chainID); ok {
			s.nextNonce.WithLabelValues(chainLabel(chainID), config.ChainName(chainID)).Set(float64(next))
		}
	}

	stats := s.nonces.Stats()
	s.noncesTotal.WithLabelValues("committed").Set(float64(stats.Committed))
	s.noncesTotal.WithLabelValues("released").Set(float64(stats.Released))
}

// StartMetricsUpdater periodically updates metrics until ctx is done
func (s *Service) StartMetricsUpdater(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(UpdateInterval)
		defer ticker.Stop()

		s.logger.Info().Msg("Started Prometheus metrics updater")

		for {
			select {
			case <-ticker.C:
				s.UpdateMetrics()
			case <-ctx.Done():
				s.logger.Info().Msg("Stopped Prometheus metrics updater")
				return
			}
		}
	}()
}

// GetHandler returns the Prometheus metrics HTTP handler
func (s *Service) GetHandler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// GetMetricsSummary returns listener stats keyed by chain name
func (s *Service) GetMetricsSummary() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	listeners := make([]map[string]interface{}, 0, len(s.listeners))

	for _, l := range s.listeners {
		var (
			deployment = l.Deployment()
			stats      = l.Stats()
		)

		listeners = append(listeners, map[string]interface{}{
			"chain_id":        deployment.ChainID,
			"chain_name":      config.ChainName(deployment.ChainID),
			"deployment":      deployment.Label,
			"address":         deployment.Address.Hex(),
			"event":           l.Event(),
			"processed":       stats.Processed,
			"shape_errors":    stats.ShapeErrors,
			"handler_errors":  stats.HandlerErrors,
			"reconnections":   stats.Reconnections,
			"last_event_time": stats.LastEventTime,
		})
	}

	return map[string]interface{}{
		"listeners":       listeners,
		"total_listeners": len(s.listeners),
		"timestamp":       time.Now(),
	}
}

func chainLabel(chainID uint64) string {
	return strconv.FormatUint(chainID, 10)
}
