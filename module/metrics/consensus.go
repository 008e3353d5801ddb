package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tusknet/tusk/model/dag"
	"github.com/tusknet/tusk/module"
)

const (
	namespaceConsensus = "consensus"
	subsystemPrimary   = "primary"
	subsystemBullshark = "bullshark"
	subsystemExecutor  = "executor"
)

// ConsensusCollector reports protocol metrics to prometheus.
type ConsensusCollector struct {
	headersProposed    prometheus.Counter
	certificatesStored prometheus.Counter
	currentRound       prometheus.Gauge
	committedRound     prometheus.Gauge
	subDagSize         prometheus.Histogram
	leadersSkipped     prometheus.Counter
	syncRequests       prometheus.Counter
	batchesExecuted    prometheus.Counter
	executionDelay     prometheus.Histogram
}

var _ module.ConsensusMetrics = (*ConsensusCollector)(nil)

func NewConsensusCollector(registerer prometheus.Registerer) *ConsensusCollector {
	cc := &ConsensusCollector{
		headersProposed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceConsensus,
			Subsystem: subsystemPrimary,
			Name:      "headers_proposed_total",
			Help:      "number of headers proposed by this node",
		}),
		certificatesStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceConsensus,
			Subsystem: subsystemPrimary,
			Name:      "certificates_stored_total",
			Help:      "number of certificates added to the local DAG",
		}),
		currentRound: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespaceConsensus,
			Subsystem: subsystemPrimary,
			Name:      "current_round",
			Help:      "the round the proposer is currently working on",
		}),
		committedRound: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespaceConsensus,
			Subsystem: subsystemBullshark,
			Name:      "committed_round",
			Help:      "the last committed leader round",
		}),
		subDagSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespaceConsensus,
			Subsystem: subsystemBullshark,
			Name:      "sub_dag_size",
			Help:      "number of certificates per committed sub-DAG",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128},
		}),
		leadersSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceConsensus,
			Subsystem: subsystemBullshark,
			Name:      "leaders_skipped_total",
			Help:      "number of leader rounds skipped",
		}),
		syncRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceConsensus,
			Subsystem: subsystemPrimary,
			Name:      "sync_requests_total",
			Help:      "number of ancestor fetch requests sent to peers",
		}),
		batchesExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespaceConsensus,
			Subsystem: subsystemExecutor,
			Name:      "batches_executed_total",
			Help:      "number of batches handed to the execution layer",
		}),
		executionDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespaceConsensus,
			Subsystem: subsystemExecutor,
			Name:      "execution_delay_seconds",
			Help:      "delay between sub-DAG commit and batch execution",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}

	registerer.MustRegister(
		cc.headersProposed,
		cc.certificatesStored,
		cc.currentRound,
		cc.committedRound,
		cc.subDagSize,
		cc.leadersSkipped,
		cc.syncRequests,
		cc.batchesExecuted,
		cc.executionDelay,
	)

	return cc
}

func (cc *ConsensusCollector) HeaderProposed(round dag.Round) {
	cc.headersProposed.Inc()
}

func (cc *ConsensusCollector) CertificateStored(round dag.Round) {
	cc.certificatesStored.Inc()
}

func (cc *ConsensusCollector) RoundAdvanced(round dag.Round) {
	cc.currentRound.Set(float64(round))
}

func (cc *ConsensusCollector) LeaderCommitted(round dag.Round, subDagSize int) {
	cc.committedRound.Set(float64(round))
	cc.subDagSize.Observe(float64(subDagSize))
}

func (cc *ConsensusCollector) LeaderSkipped(round dag.Round) {
	cc.leadersSkipped.Inc()
}

func (cc *ConsensusCollector) SyncRequestSent() {
	cc.syncRequests.Inc()
}

func (cc *ConsensusCollector) BatchExecuted(size int, delay time.Duration) {
	cc.batchesExecuted.Inc()
	cc.executionDelay.Observe(delay.Seconds())
}
