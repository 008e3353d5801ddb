package primary

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/tusknet/tusk/committee"
	"github.com/tusknet/tusk/model/dag"
)

// TimeoutAggregator collects round-timeout attestations into timeout
// certificates. A timeout certificate for round r proves that a quorum of
// stake gave up waiting for r to complete, which authorizes proposers to
// advance without the round's remaining certificates.
type TimeoutAggregator struct {
	log       zerolog.Logger
	committee *committee.Committee
	validator *Validator

	mu     sync.Mutex
	rounds map[dag.Round]*timeoutCollector
}

type timeoutCollector struct {
	sigs  map[dag.Digest][]byte // voter -> signature
	stake uint64
	done  bool
}

func NewTimeoutAggregator(log zerolog.Logger, com *committee.Committee, validator *Validator) *TimeoutAggregator {
	return &TimeoutAggregator{
		log:       log.With().Str("component", "timeout_aggregator").Logger(),
		committee: com,
		validator: validator,
		rounds:    make(map[dag.Round]*timeoutCollector),
	}
}

// AddTimeout processes one timeout attestation. It returns the assembled
// timeout certificate exactly once, when quorum stake is reached for the
// round; all other calls return nil. Duplicate attestations are no-ops.
func (t *TimeoutAggregator) AddTimeout(timeout *dag.TimeoutVote) (*dag.TimeoutCertificate, error) {
	err := t.validator.ValidateTimeoutVote(timeout)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	collector, ok := t.rounds[timeout.Round]
	if !ok {
		collector = &timeoutCollector{sigs: make(map[dag.Digest][]byte)}
		t.rounds[timeout.Round] = collector
	}
	if collector.done {
		return nil, nil
	}
	if _, ok := collector.sigs[timeout.Voter]; ok {
		return nil, nil
	}

	collector.sigs[timeout.Voter] = timeout.Sig
	collector.stake += t.committee.StakeOf(timeout.Voter)
	if collector.stake < t.committee.QuorumThreshold() {
		return nil, nil
	}
	collector.done = true

	tc := &dag.TimeoutCertificate{Round: timeout.Round}
	signers := make(dag.DigestList, 0, len(collector.sigs))
	for voter := range collector.sigs {
		signers = append(signers, voter)
	}
	for _, signer := range signers.Sort() {
		tc.Signers = append(tc.Signers, signer)
		tc.Sigs = append(tc.Sigs, collector.sigs[signer])
	}

	t.log.Debug().Uint64("round", uint64(timeout.Round)).Msg("timeout certificate formed")

	return tc, nil
}

// StakeAtRound returns the stake collected so far for the given round's
// attestations. Once it reaches the committee's validity threshold (f+1), at
// least one honest member has timed out, which justifies joining the timeout
// without waiting for the local timer.
func (t *TimeoutAggregator) StakeAtRound(round dag.Round) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	collector, ok := t.rounds[round]
	if !ok {
		return 0
	}
	return collector.stake
}

// PruneByRound drops collection state for rounds strictly below the given
// round.
func (t *TimeoutAggregator) PruneByRound(round dag.Round) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for r := range t.rounds {
		if r < round {
			delete(t.rounds, r)
		}
	}
}
