package operation

import (
	"github.com/dgraph-io/badger/v2"

	"github.com/tusknet/tusk/model/dag"
	"github.com/tusknet/tusk/storage"
)

// UpdateCommittedRound sets the last committed leader round boundary.
func UpdateCommittedRound(round dag.Round) func(*badger.Txn) error {
	return upsert(makePrefix(codeCommittedRound), round)
}

// RetrieveCommittedRound retrieves the last committed leader round boundary.
func RetrieveCommittedRound(round *dag.Round) func(*badger.Txn) error {
	return retrieve(makePrefix(codeCommittedRound), round)
}

// UpdateSequenceLength sets the commit sequence length boundary.
func UpdateSequenceLength(length uint64) func(*badger.Txn) error {
	return upsert(makePrefix(codeSequenceLength), length)
}

// RetrieveSequenceLength retrieves the commit sequence length boundary.
func RetrieveSequenceLength(length *uint64) func(*badger.Txn) error {
	return retrieve(makePrefix(codeSequenceLength), length)
}

// InsertSubDag inserts one commit sequence entry under its sequence index.
// The commit sequence is append-only; overwriting an index is an error.
func InsertSubDag(record *storage.SubDagRecord) func(*badger.Txn) error {
	return insert(makePrefix(codeSubDag, record.SequenceIdx), record)
}

// RetrieveSubDag retrieves the commit sequence entry with the given index.
func RetrieveSubDag(sequenceIdx uint64, record *storage.SubDagRecord) func(*badger.Txn) error {
	return retrieve(makePrefix(codeSubDag, sequenceIdx), record)
}

// UpdateExecutedIndex sets the last executed sequence index boundary.
func UpdateExecutedIndex(sequenceIdx uint64) func(*badger.Txn) error {
	return upsert(makePrefix(codeExecutedIndex), sequenceIdx)
}

// RetrieveExecutedIndex retrieves the last executed sequence index boundary.
func RetrieveExecutedIndex(sequenceIdx *uint64) func(*badger.Txn) error {
	return retrieve(makePrefix(codeExecutedIndex), sequenceIdx)
}
