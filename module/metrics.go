package module

import (
	"time"

	"github.com/tusknet/tusk/model/dag"
)

// ConsensusMetrics collects protocol-level observations. Implementations
// must be safe for concurrent use.
type ConsensusMetrics interface {

	// HeaderProposed is called when the local proposer broadcasts a header.
	HeaderProposed(round dag.Round)

	// CertificateStored is called when a certificate is added to the DAG.
	CertificateStored(round dag.Round)

	// RoundAdvanced is called when the proposer moves to a new round.
	RoundAdvanced(round dag.Round)

	// LeaderCommitted is called when a leader round reaches commit.
	LeaderCommitted(round dag.Round, subDagSize int)

	// LeaderSkipped is called when a leader round is skipped.
	LeaderSkipped(round dag.Round)

	// SyncRequestSent is called for every ancestor fetch request.
	SyncRequestSent()

	// BatchExecuted is called when a batch is handed to the execution layer.
	BatchExecuted(size int, delay time.Duration)
}
