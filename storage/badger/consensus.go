package badger

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v2"

	"github.com/tusknet/tusk/model/dag"
	"github.com/tusknet/tusk/storage"
	"github.com/tusknet/tusk/storage/badger/operation"
)

// ConsensusState persists the consensus engine's progress on badger.
type ConsensusState struct {
	db *badger.DB
}

var _ storage.ConsensusState = (*ConsensusState)(nil)

func NewConsensusState(db *badger.DB) *ConsensusState {
	return &ConsensusState{db: db}
}

// AppendSubDag durably appends one commit sequence entry, advancing the
// sequence length and the committed-round boundary in the same transaction.
func (c *ConsensusState) AppendSubDag(record *storage.SubDagRecord) error {
	return c.db.Update(func(tx *badger.Txn) error {

		var length uint64
		err := operation.RetrieveSequenceLength(&length)(tx)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("could not retrieve sequence length: %w", err)
		}

		// the commit sequence is gap-free and append-only
		if record.SequenceIdx != length {
			return fmt.Errorf("non-contiguous commit sequence append (index %d, length %d)", record.SequenceIdx, length)
		}

		err = operation.InsertSubDag(record)(tx)
		if err != nil {
			return fmt.Errorf("could not insert sub-dag record: %w", err)
		}
		err = operation.UpdateSequenceLength(length + 1)(tx)
		if err != nil {
			return fmt.Errorf("could not update sequence length: %w", err)
		}
		err = operation.UpdateCommittedRound(record.LeaderRound)(tx)
		if err != nil {
			return fmt.Errorf("could not update committed round: %w", err)
		}
		return nil
	})
}

// SubDag retrieves the commit sequence entry with the given index.
func (c *ConsensusState) SubDag(sequenceIdx uint64) (*storage.SubDagRecord, error) {
	var record storage.SubDagRecord
	err := c.db.View(operation.RetrieveSubDag(sequenceIdx, &record))
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// SequenceLength returns the number of appended commit sequence entries.
func (c *ConsensusState) SequenceLength() (uint64, error) {
	var length uint64
	err := c.db.View(operation.RetrieveSequenceLength(&length))
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return length, nil
}

// CommittedRound returns the last committed leader round, or 0 if nothing
// has been committed.
func (c *ConsensusState) CommittedRound() (dag.Round, error) {
	var round dag.Round
	err := c.db.View(operation.RetrieveCommittedRound(&round))
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return round, nil
}

// SetExecutedIndex durably records the executor's position in the commit
// sequence.
func (c *ConsensusState) SetExecutedIndex(sequenceIdx uint64) error {
	return c.db.Update(operation.UpdateExecutedIndex(sequenceIdx))
}

// ExecutedIndex returns the last executed sequence index.
func (c *ConsensusState) ExecutedIndex() (uint64, error) {
	var sequenceIdx uint64
	err := c.db.View(operation.RetrieveExecutedIndex(&sequenceIdx))
	if err != nil {
		return 0, err
	}
	return sequenceIdx, nil
}
