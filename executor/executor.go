// Package executor walks committed sub-DAGs in sequence order, resolves
// certificate batch references through the worker tier and hands the batch
// payloads to the execution layer in the agreed global order.
package executor

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tusknet/tusk/dagstore"
	"github.com/tusknet/tusk/engine"
	"github.com/tusknet/tusk/model/dag"
	"github.com/tusknet/tusk/module"
	"github.com/tusknet/tusk/storage"
)

// Config holds the executor's tunable parameters.
type Config struct {

	// FetchRetryInterval is the delay between attempts to resolve a batch
	// the worker tier has not synced yet.
	FetchRetryInterval time.Duration

	// PrefetchWorkers is the number of concurrent batch resolutions per
	// sub-DAG. Submission order is unaffected; only resolution overlaps.
	PrefetchWorkers int
}

// DefaultConfig returns the default executor configuration.
func DefaultConfig() Config {
	return Config{
		FetchRetryInterval: 100 * time.Millisecond,
		PrefetchWorkers:    8,
	}
}

// Executor consumes the commit sequence. Every committed certificate's
// batches are resolved and submitted in the certificate's fixed batch order;
// certificates follow the sub-DAG commit order; sub-DAGs follow the sequence
// order. A batch that cannot be resolved blocks its position until the
// worker tier syncs it; batches are never skipped or substituted.
type Executor struct {
	unit    *engine.Unit
	log     zerolog.Logger
	cfg     Config
	metrics module.ConsensusMetrics
	store   *dagstore.Store
	state   storage.ConsensusState
	worker  module.WorkerProvider
	sink    module.ExecutionSink
	subdags <-chan *dag.CommittedSubDag
}

// New creates the executor consuming the given committed sub-DAG channel.
func New(
	log zerolog.Logger,
	cfg Config,
	metrics module.ConsensusMetrics,
	store *dagstore.Store,
	state storage.ConsensusState,
	worker module.WorkerProvider,
	sink module.ExecutionSink,
	subdags <-chan *dag.CommittedSubDag,
) *Executor {
	return &Executor{
		unit:    engine.NewUnit(),
		log:     log.With().Str("component", "executor").Logger(),
		cfg:     cfg,
		metrics: metrics,
		store:   store,
		state:   state,
		worker:  worker,
		sink:    sink,
		subdags: subdags,
	}
}

// Ready starts the execution loop. Sub-DAGs committed before a restart but
// not yet executed are replayed from the durable sequence first.
func (e *Executor) Ready() <-chan struct{} {
	e.unit.Launch(e.run)
	return e.unit.Ready()
}

// Done stops the execution loop. The sub-DAG in flight finishes its current
// batch submission before the loop exits.
func (e *Executor) Done() <-chan struct{} {
	return e.unit.Done()
}

func (e *Executor) run() {
	next, err := e.catchUp()
	if errors.Is(err, errShutdown) {
		return
	}
	if err != nil {
		e.log.Fatal().Err(err).Msg("could not replay unexecuted commit sequence")
		return
	}

	for {
		select {
		case <-e.unit.Quit():
			return
		case subdag, ok := <-e.subdags:
			if !ok {
				return
			}
			// replay already covered entries the engine re-derived
			if subdag.SequenceIdx < next {
				continue
			}
			if subdag.SequenceIdx > next {
				e.log.Fatal().
					Uint64("expected", next).
					Uint64("received", subdag.SequenceIdx).
					Msg("commit sequence gap")
				return
			}
			err := e.execute(subdag)
			if err != nil {
				if errors.Is(err, errShutdown) {
					return
				}
				e.log.Fatal().Err(err).Uint64("sequence_idx", subdag.SequenceIdx).Msg("sub-dag execution failed")
				return
			}
			next++
		}
	}
}

// catchUp replays durably committed but unexecuted sub-DAGs and returns the
// next sequence index expected from the live channel.
func (e *Executor) catchUp() (uint64, error) {
	length, err := e.state.SequenceLength()
	if err != nil {
		return 0, fmt.Errorf("could not retrieve sequence length: %w", err)
	}
	next := uint64(0)
	executed, err := e.state.ExecutedIndex()
	if err == nil {
		next = executed + 1
	} else if !errors.Is(err, storage.ErrNotFound) {
		return 0, fmt.Errorf("could not retrieve executed index: %w", err)
	}

	for idx := next; idx < length; idx++ {
		record, err := e.state.SubDag(idx)
		if err != nil {
			return 0, fmt.Errorf("could not retrieve sub-dag %d: %w", idx, err)
		}
		subdag, err := e.materialize(record)
		if err != nil {
			return 0, err
		}
		err = e.execute(subdag)
		if err != nil {
			return 0, err
		}
		e.log.Info().Uint64("sequence_idx", idx).Msg("replayed unexecuted sub-dag")
	}
	return length, nil
}

// materialize resolves a durable sequence record back into certificates. The
// retention window guarantees unexecuted sub-DAGs are never pruned.
func (e *Executor) materialize(record *storage.SubDagRecord) (*dag.CommittedSubDag, error) {
	certs := make([]*dag.Certificate, 0, len(record.Certificates))
	for _, certID := range record.Certificates {
		cert, ok := e.store.Get(certID)
		if !ok {
			return nil, fmt.Errorf("certificate %v of unexecuted sub-dag %d was pruned", certID, record.SequenceIdx)
		}
		certs = append(certs, cert)
	}
	leader, ok := e.store.ByAuthorRound(record.LeaderID, record.LeaderRound)
	if !ok {
		return nil, fmt.Errorf("leader certificate of unexecuted sub-dag %d was pruned", record.SequenceIdx)
	}
	return &dag.CommittedSubDag{
		Leader:       leader,
		LeaderRound:  record.LeaderRound,
		SequenceIdx:  record.SequenceIdx,
		Certificates: certs,
	}, nil
}

// execute submits every batch of the sub-DAG in order, then durably records
// the executed index.
func (e *Executor) execute(subdag *dag.CommittedSubDag) error {
	payloads, err := e.prefetch(subdag)
	if err != nil {
		return err
	}

	committedAt := time.Now()
	for _, cert := range subdag.Certificates {
		for _, ref := range cert.Header.Batches {
			payload, ok := payloads[ref.Digest]
			if !ok {
				// prefetch misses are refetched inline, preserving order
				payload, err = e.fetchWithRetry(ref.Digest)
				if err != nil {
					return err
				}
			}
			err = e.sink.SubmitOrderedBatch(cert.Author(), payload)
			if err != nil {
				return fmt.Errorf("execution layer rejected batch %v: %w", ref.Digest, err)
			}
			e.metrics.BatchExecuted(len(payload), time.Since(committedAt))
		}
	}

	err = e.state.SetExecutedIndex(subdag.SequenceIdx)
	if err != nil {
		return fmt.Errorf("could not record executed index %d: %w", subdag.SequenceIdx, err)
	}

	e.log.Debug().
		Uint64("sequence_idx", subdag.SequenceIdx).
		Uint64("leader_round", uint64(subdag.LeaderRound)).
		Int("certificates", len(subdag.Certificates)).
		Msg("sub-dag executed")

	return nil
}

// prefetch resolves the sub-DAG's batches concurrently. Resolution order is
// irrelevant here; submission order is enforced by the caller.
func (e *Executor) prefetch(subdag *dag.CommittedSubDag) (map[dag.Digest][]byte, error) {
	digests := make([]dag.Digest, 0)
	seen := make(map[dag.Digest]struct{})
	for _, cert := range subdag.Certificates {
		for _, ref := range cert.Header.Batches {
			if _, ok := seen[ref.Digest]; ok {
				continue
			}
			seen[ref.Digest] = struct{}{}
			digests = append(digests, ref.Digest)
		}
	}
	if len(digests) == 0 {
		return map[dag.Digest][]byte{}, nil
	}

	payloads := make([][]byte, len(digests))
	var group errgroup.Group
	group.SetLimit(e.cfg.PrefetchWorkers)
	for i, digest := range digests {
		i, digest := i, digest
		group.Go(func() error {
			payload, err := e.fetchWithRetry(digest)
			if err != nil {
				return err
			}
			payloads[i] = payload
			return nil
		})
	}
	err := group.Wait()
	if err != nil {
		return nil, err
	}

	resolved := make(map[dag.Digest][]byte, len(digests))
	for i, digest := range digests {
		resolved[digest] = payloads[i]
	}
	return resolved, nil
}

// fetchWithRetry blocks until the worker tier resolves the batch. The global
// order requires every committed reference to eventually resolve, so only
// shutdown interrupts the retry loop.
func (e *Executor) fetchWithRetry(digest dag.Digest) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		payload, err := e.worker.FetchBatch(digest)
		if err == nil {
			return payload, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("could not fetch batch %v: %w", digest, err)
		}
		if attempt > 0 && attempt%100 == 0 {
			e.log.Warn().
				Hex("batch", digest[:8]).
				Int("attempts", attempt).
				Msg("batch still unresolved, waiting on worker sync")
		}
		select {
		case <-e.unit.Quit():
			return nil, errShutdown
		case <-time.After(e.cfg.FetchRetryInterval):
		}
	}
}

var errShutdown = errors.New("executor shutting down")
