// Package storage defines the durable, crash-consistent store abstractions
// required by the consensus core. Implementations must guarantee that a
// process restart never resurrects a partially-written entity.
package storage

import (
	"github.com/tusknet/tusk/model/dag"
)

// Certificates is the persistent certificate store backing the DAG. Writes
// are atomic insert-if-absent keyed by digest, which keeps the store
// append-only; the (author, round) index enforces the at-most-one
// certificate per slot invariant.
type Certificates interface {

	// Store persists the certificate and its round index atomically. It is
	// idempotent for identical certificates and returns ErrDataMismatch if a
	// different certificate already occupies the (author, round) slot.
	Store(cert *dag.Certificate) error

	// ByID retrieves the certificate with the given digest. Returns
	// ErrNotFound if it is not stored.
	ByID(certID dag.Digest) (*dag.Certificate, error)

	// ByRound retrieves all stored certificates of the given round, in
	// canonical author order.
	ByRound(round dag.Round) ([]*dag.Certificate, error)

	// ByAuthorRound retrieves the certificate occupying the given
	// (author, round) slot. Returns ErrNotFound if the slot is empty.
	ByAuthorRound(author dag.Digest, round dag.Round) (*dag.Certificate, error)

	// Rounds returns the rounds currently holding certificates, ascending.
	Rounds() ([]dag.Round, error)

	// PruneBelow removes all certificates with round strictly lower than the
	// given round. Callers must only prune rounds already reflected in the
	// commit sequence.
	PruneBelow(round dag.Round) error
}

// SubDagRecord is the durable form of one commit sequence entry.
type SubDagRecord struct {
	SequenceIdx  uint64
	LeaderRound  dag.Round
	LeaderID     dag.Digest
	Certificates dag.DigestList // commit order within the sub-DAG
}

// ConsensusState persists the consensus engine's progress: the monotonic
// commit sequence and the executor's position in it.
type ConsensusState interface {

	// AppendSubDag durably appends one commit sequence entry and advances
	// the committed-round boundary, atomically. The record's sequence index
	// must be exactly the current sequence length.
	AppendSubDag(record *SubDagRecord) error

	// SubDag retrieves the commit sequence entry with the given index.
	// Returns ErrNotFound for indices at or beyond the sequence length.
	SubDag(sequenceIdx uint64) (*SubDagRecord, error)

	// SequenceLength returns the number of appended commit sequence entries.
	SequenceLength() (uint64, error)

	// CommittedRound returns the last committed leader round, or 0 if
	// nothing has been committed.
	CommittedRound() (dag.Round, error)

	// SetExecutedIndex durably records that all sequence entries up to and
	// including the given index have been handed to the execution layer.
	SetExecutedIndex(sequenceIdx uint64) error

	// ExecutedIndex returns the last executed sequence index. Returns
	// ErrNotFound if nothing has been executed yet.
	ExecutedIndex() (uint64, error)
}
