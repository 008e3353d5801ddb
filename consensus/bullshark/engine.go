// Package bullshark implements the leader-based commit rule that converts
// the certificate DAG into a single, agreed, gap-free commit sequence.
//
// Every leader round has one stake-elected leader. A leader certificate is
// committed directly once a stake quorum of next-round certificates list it
// as a parent. Leader rounds that cannot be decided directly stay pending
// until the next direct commit: the engine then walks backwards from the
// newly committed leader and commits every pending leader reachable from it,
// skipping the rest. Because direct commits require intersecting quorums,
// every validator resolves pending leaders against the same anchors and the
// resulting sequences never diverge.
package bullshark

import (
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/tusknet/tusk/committee"
	"github.com/tusknet/tusk/dagstore"
	"github.com/tusknet/tusk/engine"
	"github.com/tusknet/tusk/model/dag"
	"github.com/tusknet/tusk/module"
	"github.com/tusknet/tusk/storage"
)

// Pruner is notified after garbage collection so per-round bookkeeping
// outside the DAG store can be dropped as well.
type Pruner interface {
	PruneBelow(round dag.Round)
}

// Engine consumes the growing DAG and emits committed sub-DAGs in sequence
// order. It is the single writer of the commit sequence; evaluation runs on
// one goroutine, so the sequence is totally ordered by construction.
type Engine struct {
	unit      *engine.Unit
	log       zerolog.Logger
	cfg       Config
	metrics   module.ConsensusMetrics
	committee *committee.Committee
	schedule  *committee.LeaderSchedule
	store     *dagstore.Store
	state     storage.ConsensusState
	pruner    Pruner

	notify chan struct{}
	out    chan *dag.CommittedSubDag

	// lastDecided is the highest leader round whose commit-or-skip decision
	// is final; all leader rounds at or below it are resolved
	lastDecided dag.Round

	// sequenceIdx is the index the next committed sub-DAG will take
	sequenceIdx uint64

	// committed maps every certificate already emitted in the commit
	// sequence to its round, so sub-DAG extraction excludes it and garbage
	// collection can drop the entry
	committed map[dag.Digest]dag.Round
}

// New creates the commit engine and restores its position in the commit
// sequence from the consensus state.
func New(
	log zerolog.Logger,
	metrics module.ConsensusMetrics,
	com *committee.Committee,
	schedule *committee.LeaderSchedule,
	store *dagstore.Store,
	state storage.ConsensusState,
	pruner Pruner,
	options ...OptionFunc,
) (*Engine, error) {

	cfg := DefaultConfig()
	for _, option := range options {
		option(&cfg)
	}

	e := &Engine{
		unit:      engine.NewUnit(),
		log:       log.With().Str("component", "bullshark").Logger(),
		cfg:       cfg,
		metrics:   metrics,
		committee: com,
		schedule:  schedule,
		store:     store,
		state:     state,
		pruner:    pruner,
		notify:    make(chan struct{}, 1),
		out:       make(chan *dag.CommittedSubDag, cfg.SubDagBuffer),
		committed: make(map[dag.Digest]dag.Round),
	}

	err := e.restore()
	if err != nil {
		return nil, fmt.Errorf("could not restore commit sequence position: %w", err)
	}

	return e, nil
}

// restore reloads the sequence length, the committed-round boundary and the
// committed set covering all certificates still retained by the DAG store.
func (e *Engine) restore() error {
	length, err := e.state.SequenceLength()
	if err != nil {
		return fmt.Errorf("could not retrieve sequence length: %w", err)
	}
	committedRound, err := e.state.CommittedRound()
	if err != nil {
		return fmt.Errorf("could not retrieve committed round: %w", err)
	}
	e.sequenceIdx = length
	e.lastDecided = committedRound

	// walk the sequence backwards until it drops below the GC watermark;
	// older sub-DAGs reference only pruned certificates, which closure
	// extraction can no longer reach anyway
	gcRound := e.store.GCRound()
	for idx := length; idx > 0; idx-- {
		record, err := e.state.SubDag(idx - 1)
		if err != nil {
			return fmt.Errorf("could not retrieve sub-dag %d: %w", idx-1, err)
		}
		for _, certID := range record.Certificates {
			cert, ok := e.store.Get(certID)
			if !ok {
				continue
			}
			e.committed[certID] = cert.Round()
		}
		if record.LeaderRound < gcRound {
			break
		}
	}

	e.log.Info().
		Uint64("sequence_length", length).
		Uint64("committed_round", uint64(committedRound)).
		Int("committed_certificates", len(e.committed)).
		Msg("commit sequence position restored")

	return nil
}

// SubDags returns the channel of committed sub-DAGs, in sequence order.
func (e *Engine) SubDags() <-chan *dag.CommittedSubDag {
	return e.out
}

// OnCertificateStored notifies the engine that the DAG has grown. Safe to
// call from any goroutine; notifications coalesce.
func (e *Engine) OnCertificateStored(_ *dag.Certificate) {
	select {
	case e.notify <- struct{}{}:
	default:
	}
}

// Ready starts commit evaluation. On startup one evaluation runs
// unconditionally so certificates persisted before a restart are re-examined.
func (e *Engine) Ready() <-chan struct{} {
	e.unit.Launch(e.run)
	return e.unit.Ready()
}

// Done stops commit evaluation and closes the sub-DAG channel.
func (e *Engine) Done() <-chan struct{} {
	return e.unit.Done(func() {
		close(e.out)
	})
}

func (e *Engine) run() {
	e.evaluate()
	for {
		select {
		case <-e.unit.Quit():
			return
		case <-e.notify:
			e.evaluate()
		}
	}
}

// evaluate advances the commit sequence as far as the current DAG allows.
func (e *Engine) evaluate() {
	for {
		anchor, pending := e.findAnchor()
		if anchor == nil {
			return
		}

		// resolve pending leader rounds backwards from the anchor: a pending
		// leader is committed iff the current anchor causally reaches it
		leaders := []*dag.Certificate{anchor}
		current := anchor
		for i := len(pending) - 1; i >= 0; i-- {
			round := pending[i]
			leaderID, err := e.schedule.LeaderForRound(round)
			if err != nil {
				e.log.Fatal().Err(err).Uint64("round", uint64(round)).Msg("leader election failed")
				return
			}
			candidate, exists := e.store.ByAuthorRound(leaderID, round)
			if !exists || !e.store.Reachable(current, candidate.ID(), round) {
				e.metrics.LeaderSkipped(round)
				e.log.Info().
					Uint64("round", uint64(round)).
					Hex("leader", leaderID[:8]).
					Bool("certified", exists).
					Msg("leader round skipped")
				continue
			}
			leaders = append(leaders, candidate)
			current = candidate
		}

		// emit in ascending leader round order
		for i := len(leaders) - 1; i >= 0; i-- {
			err := e.commitLeader(leaders[i])
			if err != nil {
				e.log.Fatal().Err(err).Msg("could not append to commit sequence")
				return
			}
		}
		e.lastDecided = anchor.Round()

		e.gc()
	}
}

// findAnchor scans leader rounds above the decision boundary for the first
// leader with direct quorum support, returning it together with the pending
// leader rounds skipped over. Returns nil when no leader round can currently
// be decided directly.
func (e *Engine) findAnchor() (*dag.Certificate, []dag.Round) {
	var pending []dag.Round
	highest := e.store.HighestRound()
	for round := e.schedule.NextLeaderRound(e.lastDecided); round < highest; round = e.schedule.NextLeaderRound(round) {
		leaderID, err := e.schedule.LeaderForRound(round)
		if err != nil {
			e.log.Fatal().Err(err).Uint64("round", uint64(round)).Msg("leader election failed")
			return nil, nil
		}
		leader, exists := e.store.ByAuthorRound(leaderID, round)
		if exists && e.supportStake(leader) >= e.committee.QuorumThreshold() {
			return leader, pending
		}
		pending = append(pending, round)
	}
	return nil, nil
}

// supportStake sums the stake of next-round certificates listing the leader
// as a parent. Only direct parent links count as support; this is what makes
// two direct commits at the same round impossible.
func (e *Engine) supportStake(leader *dag.Certificate) uint64 {
	leaderID := leader.ID()
	var stake uint64
	for _, cert := range e.store.ByRound(leader.Round() + 1) {
		if cert.Header.Parents.Contains(leaderID) {
			stake += e.committee.StakeOf(cert.Author())
		}
	}
	return stake
}

// commitLeader extracts the leader's sub-DAG, persists the sequence entry
// and hands the sub-DAG to the executor channel.
func (e *Engine) commitLeader(leader *dag.Certificate) error {
	closure := e.store.CausalClosure(leader, func(certID dag.Digest) bool {
		_, done := e.committed[certID]
		return done
	})

	// deterministic commit order within the sub-DAG
	sort.Slice(closure, func(i, j int) bool {
		if closure[i].Round() != closure[j].Round() {
			return closure[i].Round() < closure[j].Round()
		}
		if closure[i].Author() != closure[j].Author() {
			return closure[i].Author().Less(closure[j].Author())
		}
		return closure[i].ID().Less(closure[j].ID())
	})

	certIDs := make(dag.DigestList, 0, len(closure))
	for _, cert := range closure {
		certIDs = append(certIDs, cert.ID())
	}
	record := &storage.SubDagRecord{
		SequenceIdx:  e.sequenceIdx,
		LeaderRound:  leader.Round(),
		LeaderID:     leader.Author(),
		Certificates: certIDs,
	}
	err := e.state.AppendSubDag(record)
	if err != nil && !errors.Is(err, storage.ErrAlreadyExists) {
		return fmt.Errorf("could not persist sub-dag %d: %w", e.sequenceIdx, err)
	}
	for _, cert := range closure {
		e.committed[cert.ID()] = cert.Round()
	}

	subdag := &dag.CommittedSubDag{
		Leader:       leader,
		LeaderRound:  leader.Round(),
		SequenceIdx:  e.sequenceIdx,
		Certificates: closure,
	}
	e.sequenceIdx++

	e.metrics.LeaderCommitted(leader.Round(), len(closure))
	e.log.Info().
		Uint64("round", uint64(leader.Round())).
		Uint64("sequence_idx", subdag.SequenceIdx).
		Hex("leader", logID(leader.Author())).
		Int("certificates", len(closure)).
		Msg("leader committed")

	select {
	case e.out <- subdag:
	case <-e.unit.Quit():
	}
	return nil
}

// gc prunes the DAG below the retention window trailing the decision
// boundary.
func (e *Engine) gc() {
	if e.lastDecided <= e.cfg.RetentionWindow {
		return
	}
	cutoff := e.lastDecided - e.cfg.RetentionWindow
	err := e.store.PruneBelow(cutoff)
	if err != nil {
		e.log.Fatal().Err(err).Uint64("cutoff", uint64(cutoff)).Msg("garbage collection failed")
		return
	}
	for certID, round := range e.committed {
		if round < cutoff {
			delete(e.committed, certID)
		}
	}
	if e.pruner != nil {
		e.pruner.PruneBelow(cutoff)
	}
}

func logID(d dag.Digest) []byte {
	return d[:8]
}
