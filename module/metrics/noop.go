package metrics

import (
	"time"

	"github.com/tusknet/tusk/model/dag"
	"github.com/tusknet/tusk/module"
)

// NoopCollector discards all observations. Used in tests and as a default.
type NoopCollector struct{}

var _ module.ConsensusMetrics = (*NoopCollector)(nil)

func NewNoopCollector() *NoopCollector { return &NoopCollector{} }

func (nc *NoopCollector) HeaderProposed(dag.Round)         {}
func (nc *NoopCollector) CertificateStored(dag.Round)      {}
func (nc *NoopCollector) RoundAdvanced(dag.Round)          {}
func (nc *NoopCollector) LeaderCommitted(dag.Round, int)   {}
func (nc *NoopCollector) LeaderSkipped(dag.Round)          {}
func (nc *NoopCollector) SyncRequestSent()                 {}
func (nc *NoopCollector) BatchExecuted(int, time.Duration) {}
