// Package module contains the small shared interfaces between the consensus
// core and its collaborators: the local node identity, the worker tier, the
// execution layer and metrics.
package module

import (
	"github.com/tusknet/tusk/model/dag"
)

// Local encapsulates the local node's protocol identity and signing key.
type Local interface {

	// NodeID returns the node ID of the local node.
	NodeID() dag.Digest

	// Sign signs the given message digest with the node's staking key.
	Sign(msg dag.Digest) ([]byte, error)
}

// WorkerProvider is the interface to the worker tier. The core treats a
// batch as an opaque digest plus size metadata; collection and storage of
// batch contents is the workers' concern.
type WorkerProvider interface {

	// OwnBatchRefs returns references for batches collected by this node's
	// workers that have not yet been included in a header, up to maxBytes of
	// total batch size.
	OwnBatchRefs(maxBytes uint64) []dag.BatchRef

	// FetchBatch returns the payload for the given batch digest. It returns
	// storage.ErrNotFound if the batch is not locally available yet; the
	// worker tier syncs batches independently, so callers retry.
	FetchBatch(digest dag.Digest) ([]byte, error)
}

// ExecutionSink consumes the final transaction-batch order. Calls are made
// strictly in commit sequence order, exactly once per committed batch.
type ExecutionSink interface {

	// SubmitOrderedBatch hands one batch to the execution layer. origin is
	// the validator that produced the batch.
	SubmitOrderedBatch(origin dag.Digest, payload []byte) error
}
