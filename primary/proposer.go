package primary

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tusknet/tusk/committee"
	"github.com/tusknet/tusk/dagstore"
	"github.com/tusknet/tusk/engine"
	"github.com/tusknet/tusk/model/dag"
	"github.com/tusknet/tusk/module"
	"github.com/tusknet/tusk/network"
)

// Proposer drives this validator's round progression: each round it builds a
// header referencing all observed certificates of the previous round plus
// the worker tier's pending batch digests, and broadcasts it to the
// committee.
//
// A round is proposed once the previous round holds a quorum of parent
// stake, and additionally the previous round's designated leader certificate
// has arrived, the round timeout has elapsed, or a timeout certificate
// proves a quorum has stopped waiting. A header never references less than
// quorum parent stake; that is a certificate validity invariant, so when
// parents are missing beyond the timeout the proposer keeps waiting for the
// synchronizer rather than proposing an invalid header.
type Proposer struct {
	unit      *engine.Unit
	log       zerolog.Logger
	cfg       Config
	metrics   module.ConsensusMetrics
	committee *committee.Committee
	schedule  *committee.LeaderSchedule
	local     module.Local
	worker    module.WorkerProvider
	store     *dagstore.Store
	timeouts  *TimeoutAggregator
	certifier *Certifier
	headers   network.Conduit // header proposals
	votes     network.Conduit // timeout attestations travel with votes
	certs     network.Conduit // timeout certificates travel with certificates

	round     dag.Round
	proposal  *dag.SignedHeader // current round's header, kept for publish retries
	certSeen  chan struct{}
	timeoutCh chan *dag.TimeoutCertificate
	hintCh    chan dag.Round
}

func NewProposer(
	log zerolog.Logger,
	cfg Config,
	metrics module.ConsensusMetrics,
	com *committee.Committee,
	schedule *committee.LeaderSchedule,
	local module.Local,
	worker module.WorkerProvider,
	store *dagstore.Store,
	timeouts *TimeoutAggregator,
	certifier *Certifier,
	headers network.Conduit,
	votes network.Conduit,
	certs network.Conduit,
) *Proposer {
	return &Proposer{
		unit:      engine.NewUnit(),
		log:       log.With().Str("component", "proposer").Logger(),
		cfg:       cfg,
		metrics:   metrics,
		committee: com,
		schedule:  schedule,
		local:     local,
		worker:    worker,
		store:     store,
		timeouts:  timeouts,
		certifier: certifier,
		headers:   headers,
		votes:     votes,
		certs:     certs,
		certSeen:  make(chan struct{}, 1),
		timeoutCh: make(chan *dag.TimeoutCertificate, 1),
		hintCh:    make(chan dag.Round, 1),
	}
}

// Ready starts the round loop and returns the ready channel.
func (p *Proposer) Ready() <-chan struct{} {
	p.unit.Launch(p.run)
	return p.unit.Ready()
}

// Done shuts down the round loop.
func (p *Proposer) Done() <-chan struct{} {
	return p.unit.Done()
}

// NotifyCertificate signals that a certificate was added to the DAG, which
// may unblock the current round's parent wait.
func (p *Proposer) NotifyCertificate(cert *dag.Certificate) {
	select {
	case p.certSeen <- struct{}{}:
	default:
	}
}

// NotifyTimeoutCertificate hands a formed timeout certificate to the round
// loop.
func (p *Proposer) NotifyTimeoutCertificate(tc *dag.TimeoutCertificate) {
	select {
	case p.timeoutCh <- tc:
	default:
	}
}

// NotifyTimeoutQuorum signals that at least one honest peer timed out on the
// given round (f+1 attestations collected). The proposer joins the timeout
// immediately so the committee forms a timeout certificate without waiting
// for every node's own timer.
func (p *Proposer) NotifyTimeoutQuorum(round dag.Round) {
	select {
	case p.hintCh <- round:
	default:
	}
}

func (p *Proposer) run() {
	// resume after the highest locally known round
	p.round = p.store.HighestRound() + 1
	p.metrics.RoundAdvanced(p.round)

	for {
		select {
		case <-p.unit.Quit():
			return
		default:
		}

		err := p.awaitParentRound(p.round - 1)
		if err != nil {
			// only happens on shutdown
			return
		}

		err = p.propose(p.round)
		if err != nil {
			p.log.Error().Err(err).Uint64("round", uint64(p.round)).Msg("could not propose header")
			// transient failures (e.g. transport) are retried next pass
			// after a short delay
			select {
			case <-p.unit.Quit():
				return
			case <-time.After(p.cfg.MinRoundDelay):
			}
			continue
		}

		p.round++
		p.metrics.RoundAdvanced(p.round)

		select {
		case <-p.unit.Quit():
			return
		case <-time.After(p.cfg.MinRoundDelay):
		}
	}
}

// awaitParentRound blocks until the given round is complete enough to build
// on: quorum parent stake plus either the designated leader's certificate,
// the round timeout, or a timeout certificate. It only errors on shutdown.
func (p *Proposer) awaitParentRound(parentRound dag.Round) error {
	if parentRound == 0 {
		// genesis certificates are always local
		return nil
	}

	timer := time.NewTimer(p.cfg.RoundTimeout)
	defer timer.Stop()
	timedOut := false
	timeoutSent := false

	for {
		quorum := p.store.StakeAtRound(parentRound) >= p.committee.QuorumThreshold()
		if quorum {
			if timedOut {
				return nil
			}
			if !p.waitingForLeader(parentRound) {
				return nil
			}
		}

		if timedOut && !timeoutSent {
			// tell the committee we gave up waiting for this round; a quorum
			// of these lets everyone advance together
			p.broadcastTimeout(parentRound)
			timeoutSent = true
		}

		select {
		case <-p.unit.Quit():
			return fmt.Errorf("proposer shutting down")
		case <-p.certSeen:
			// re-evaluate
		case tc := <-p.timeoutCh:
			if tc.Round == parentRound && quorum {
				return nil
			}
		case hint := <-p.hintCh:
			// join the timeout once f+1 stake attests to it; waiting for our
			// own timer would only delay the certificate
			if hint == parentRound && !timeoutSent {
				p.broadcastTimeout(parentRound)
				timeoutSent = true
			}
		case <-timer.C:
			timedOut = true
			if quorum {
				return nil
			}
		}
	}
}

// waitingForLeader reports whether the proposer should keep waiting for the
// parent round's designated leader certificate. Committing a leader requires
// its certificate to be referenced by quorum at the next round, so giving
// the leader a grace period materially improves commit latency.
func (p *Proposer) waitingForLeader(parentRound dag.Round) bool {
	if !p.schedule.IsLeaderRound(parentRound) {
		return false
	}
	leaderID, err := p.schedule.LeaderForRound(parentRound)
	if err != nil {
		return false
	}
	if leaderID == p.local.NodeID() {
		return false
	}
	_, ok := p.store.ByAuthorRound(leaderID, parentRound)
	return !ok
}

func (p *Proposer) broadcastTimeout(round dag.Round) {
	sig, err := p.local.Sign(dag.TimeoutMessage(round))
	if err != nil {
		p.log.Error().Err(err).Msg("could not sign timeout attestation")
		return
	}
	timeout := &dag.TimeoutVote{
		Round: round,
		Voter: p.local.NodeID(),
		Sig:   sig,
	}

	// aggregate our own attestation before broadcasting
	tc, err := p.timeouts.AddTimeout(timeout)
	if err != nil {
		p.log.Error().Err(err).Msg("could not aggregate own timeout attestation")
	}
	if tc != nil {
		p.NotifyTimeoutCertificate(tc)
		err = p.certs.Publish(tc)
		if err != nil {
			p.log.Error().Err(err).Msg("could not broadcast timeout certificate")
		}
	}

	err = p.votes.Publish(timeout)
	if err != nil {
		p.log.Error().Err(err).Msg("could not broadcast timeout attestation")
	}
}

// propose broadcasts the header for the given round, building and tracking
// it first if this is not a retry. The built header is kept across publish
// failures and re-sent verbatim: re-building would produce a second,
// differing header for the same round, which is equivocation.
func (p *Proposer) propose(round dag.Round) error {

	if p.proposal == nil || p.proposal.Header.Round != round {
		signed, err := p.buildProposal(round)
		if err != nil {
			return err
		}
		p.proposal = signed
	}

	err := p.headers.Publish(p.proposal)
	if err != nil {
		return fmt.Errorf("could not broadcast header: %w", err)
	}

	p.metrics.HeaderProposed(round)
	p.log.Debug().
		Uint64("round", uint64(round)).
		Int("parents", len(p.proposal.Header.Parents)).
		Int("batches", len(p.proposal.Header.Batches)).
		Msg("header proposed")

	return nil
}

// buildProposal assembles and signs this round's header and starts vote
// collection for it.
func (p *Proposer) buildProposal(round dag.Round) (*dag.SignedHeader, error) {

	// reference every observed certificate of the previous round, not
	// merely a quorum; inclusion improves throughput and fairness
	parents := make(dag.DigestList, 0)
	for _, cert := range p.store.ByRound(round - 1) {
		parents = append(parents, cert.ID())
	}
	parents.Sort()

	header := &dag.Header{
		Author:    p.local.NodeID(),
		Round:     round,
		Parents:   parents,
		Batches:   p.worker.OwnBatchRefs(p.cfg.MaxHeaderPayload),
		CreatedAt: uint64(time.Now().UnixMilli()),
	}

	sig, err := p.local.Sign(dag.HeaderMessage(header.ID()))
	if err != nil {
		return nil, fmt.Errorf("could not sign header: %w", err)
	}

	err = p.certifier.TrackHeader(header)
	if err != nil {
		return nil, fmt.Errorf("could not track own header: %w", err)
	}

	return &dag.SignedHeader{Header: header, Sig: sig}, nil
}
