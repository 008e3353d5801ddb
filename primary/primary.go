// Package primary implements the validator's header/vote/certificate
// pipeline: proposing headers, voting on peer headers, aggregating votes
// into certificates, and backfilling missing ancestry from peers.
package primary

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tusknet/tusk/committee"
	"github.com/tusknet/tusk/dagstore"
	"github.com/tusknet/tusk/engine"
	"github.com/tusknet/tusk/model/dag"
	"github.com/tusknet/tusk/module"
	"github.com/tusknet/tusk/network"
)

// CertificateConsumer is notified of every certificate newly added to the
// DAG. The consensus engine implements this to drive the commit rule
// incrementally.
type CertificateConsumer interface {
	OnCertificateStored(cert *dag.Certificate)
}

// Primary is the engine tying the proposer, validator, certifier, timeout
// aggregator and synchronizer together and connecting them to the transport.
type Primary struct {
	unit      *engine.Unit
	log       zerolog.Logger
	cfg       Config
	metrics   module.ConsensusMetrics
	committee *committee.Committee
	local     module.Local
	store     *dagstore.Store
	validator *Validator
	certifier *Certifier
	timeouts  *TimeoutAggregator
	proposer  *Proposer
	sync      *Synchronizer
	consumer  CertificateConsumer

	headers network.Conduit
	votes   network.Conduit
	certs   network.Conduit

	// votesCast remembers the vote sent per (author, round) so duplicate
	// header delivery is answered idempotently
	votesCast map[proposalSlot]*dag.Vote

	// pendingHeaders and pendingCerts hold inputs waiting for missing
	// ancestry; they are retried after every successful DAG insertion
	pendingHeaders map[dag.Digest]*dag.SignedHeader
	pendingCerts   map[dag.Digest]*dag.Certificate
}

// New creates the primary and registers it on the transport channels.
func New(
	log zerolog.Logger,
	metrics module.ConsensusMetrics,
	com *committee.Committee,
	schedule *committee.LeaderSchedule,
	local module.Local,
	worker module.WorkerProvider,
	store *dagstore.Store,
	net network.Network,
	consumer CertificateConsumer,
	options ...OptionFunc,
) (*Primary, error) {

	cfg := DefaultConfig()
	for _, option := range options {
		option(&cfg)
	}

	if !com.Contains(local.NodeID()) {
		return nil, dag.NewConfigurationErrorf("own node (%v) is not a committee member", local.NodeID())
	}

	p := &Primary{
		unit:           engine.NewUnit(),
		log:            log.With().Str("component", "primary").Logger(),
		cfg:            cfg,
		metrics:        metrics,
		committee:      com,
		local:          local,
		store:          store,
		consumer:       consumer,
		votesCast:      make(map[proposalSlot]*dag.Vote),
		pendingHeaders: make(map[dag.Digest]*dag.SignedHeader),
		pendingCerts:   make(map[dag.Digest]*dag.Certificate),
	}

	p.validator = NewValidator(log, com, cfg.VerifierCount, cfg.MaxHeaderPayload)
	p.certifier = NewCertifier(log, com, local, p.validator)
	p.timeouts = NewTimeoutAggregator(log, com, p.validator)

	headers, err := net.Register(network.ChannelHeaders, p)
	if err != nil {
		return nil, fmt.Errorf("could not register header channel: %w", err)
	}
	votes, err := net.Register(network.ChannelVotes, p)
	if err != nil {
		return nil, fmt.Errorf("could not register vote channel: %w", err)
	}
	certs, err := net.Register(network.ChannelCertificates, p)
	if err != nil {
		return nil, fmt.Errorf("could not register certificate channel: %w", err)
	}
	syncCon, err := net.Register(network.ChannelSync, &syncResponder{primary: p})
	if err != nil {
		return nil, fmt.Errorf("could not register sync channel: %w", err)
	}
	p.headers = headers
	p.votes = votes
	p.certs = certs

	p.sync = NewSynchronizer(log, cfg, metrics, com, local, store, syncCon, p.processCertificate)
	p.proposer = NewProposer(log, cfg, metrics, com, schedule, local, worker, store, p.timeouts, p.certifier, headers, votes, certs)

	return p, nil
}

// Ready starts the proposer round loop and the synchronizer.
func (p *Primary) Ready() <-chan struct{} {
	<-p.sync.Ready()
	<-p.proposer.Ready()
	return p.unit.Ready()
}

// Done shuts down all sub-components.
func (p *Primary) Done() <-chan struct{} {
	return p.unit.Done(func() {
		<-p.proposer.Done()
		<-p.sync.Done()
		p.validator.Done()
	})
}

// Validator exposes the validator, mainly for peer flag inspection.
func (p *Primary) Validator() *Validator {
	return p.validator
}

// Process processes one transport event. Protocol faults are absorbed and
// logged, never escalated; only unexpected event types return an error.
func (p *Primary) Process(originID dag.Digest, event interface{}) error {
	return p.unit.Do(func() error {
		return p.process(originID, event)
	})
}

func (p *Primary) process(originID dag.Digest, event interface{}) error {
	switch ev := event.(type) {
	case *dag.SignedHeader:
		p.onHeader(originID, ev)
	case *dag.Vote:
		p.onVote(originID, ev)
	case *dag.Certificate:
		err := p.processCertificate(originID, ev)
		if err != nil && !engine.IsOutdatedInputError(err) && !engine.IsUnverifiableInputError(err) {
			p.log.Warn().Err(err).Hex("origin", originID[:8]).Msg("dropping certificate")
		}
	case *dag.TimeoutVote:
		p.onTimeout(originID, ev)
	case *dag.TimeoutCertificate:
		p.onTimeoutCertificate(originID, ev)
	default:
		return engine.NewInvalidInputErrorf("invalid event type (%T)", event)
	}
	return nil
}

// onHeader validates a peer's header proposal and answers with a vote. If
// parents are missing, the header is parked and the ancestry requested.
func (p *Primary) onHeader(originID dag.Digest, signed *dag.SignedHeader) {
	header := signed.Header
	if header == nil {
		p.validator.Flag(originID)
		return
	}
	log := p.log.With().
		Uint64("round", uint64(header.Round)).
		Hex("author", header.Author[:8]).
		Logger()

	if header.Round <= p.store.GCRound() {
		return
	}

	err := p.validator.ValidateHeader(signed)
	if dag.IsDoubleProposalError(err) {
		log.Warn().Err(err).Msg("equivocating header rejected")
		return
	}
	if err != nil {
		log.Warn().Err(err).Msg("invalid header rejected")
		p.validator.Flag(originID)
		return
	}

	slot := proposalSlot{author: header.Author, round: header.Round}

	p.unit.Lock()
	cast, voted := p.votesCast[slot]
	p.unit.Unlock()
	if voted {
		// duplicate delivery: re-answer with the identical vote
		p.sendVote(header.Author, cast)
		return
	}

	missing := p.store.MissingParents(header)
	if len(missing) > 0 {
		p.unit.Lock()
		p.pendingHeaders[header.ID()] = signed
		p.unit.Unlock()
		p.sync.RequestParents(header, missing)
		return
	}

	// a vote attests that the parents exist and satisfy the quorum rule;
	// round-1 headers are no exception, their genesis parents are always
	// local
	stake, err := p.parentStake(header)
	if err != nil || stake < p.committee.QuorumThreshold() {
		log.Warn().Err(err).Msg("header parent quorum not met, rejected")
		p.validator.Flag(header.Author)
		return
	}

	headerID := header.ID()
	sig, err := p.local.Sign(dag.VoteMessage(headerID, header.Round))
	if err != nil {
		log.Error().Err(err).Msg("could not sign vote")
		return
	}
	vote := &dag.Vote{
		HeaderID: headerID,
		Round:    header.Round,
		Voter:    p.local.NodeID(),
		Sig:      sig,
	}

	p.unit.Lock()
	p.votesCast[slot] = vote
	p.unit.Unlock()

	p.sendVote(header.Author, vote)
}

func (p *Primary) parentStake(header *dag.Header) (uint64, error) {
	var stake uint64
	seen := make(map[dag.Digest]struct{}, len(header.Parents))
	for _, parentID := range header.Parents {
		parent, ok := p.store.Get(parentID)
		if !ok {
			return 0, fmt.Errorf("parent %v disappeared", parentID)
		}
		if parent.Round() != header.Round-1 {
			return 0, fmt.Errorf("parent %v at round %d, expected %d", parentID, parent.Round(), header.Round-1)
		}
		if _, ok := seen[parent.Author()]; ok {
			return 0, fmt.Errorf("duplicate parent author %v", parent.Author())
		}
		seen[parent.Author()] = struct{}{}
		stake += p.committee.StakeOf(parent.Author())
	}
	return stake, nil
}

func (p *Primary) sendVote(author dag.Digest, vote *dag.Vote) {
	err := p.votes.Unicast(author, vote)
	if err != nil {
		p.log.Debug().Err(err).Hex("target", author[:8]).Msg("could not send vote")
	}
}

// onVote aggregates a vote for our own header; at quorum, the assembled
// certificate enters the DAG and is broadcast.
func (p *Primary) onVote(originID dag.Digest, vote *dag.Vote) {
	if originID != vote.Voter {
		p.validator.Flag(originID)
		return
	}
	cert, err := p.certifier.AddVote(vote)
	if dag.IsDoubleVoteError(err) {
		p.log.Warn().Err(err).Msg("double vote detected")
		p.validator.Flag(vote.Voter)
		return
	}
	if err != nil {
		p.log.Warn().Err(err).Hex("voter", vote.Voter[:8]).Msg("invalid vote dropped")
		p.validator.Flag(originID)
		return
	}
	if cert == nil {
		return
	}

	err = p.processCertificate(p.local.NodeID(), cert)
	if err != nil {
		p.log.Error().Err(err).Msg("could not store own certificate")
		return
	}
	err = p.certs.Publish(cert)
	if err != nil {
		p.log.Error().Err(err).Msg("could not broadcast own certificate")
	}
}

func (p *Primary) onTimeout(originID dag.Digest, timeout *dag.TimeoutVote) {
	if originID != timeout.Voter {
		p.validator.Flag(originID)
		return
	}
	tc, err := p.timeouts.AddTimeout(timeout)
	if err != nil {
		p.log.Warn().Err(err).Msg("invalid timeout attestation dropped")
		p.validator.Flag(originID)
		return
	}
	if tc == nil {
		// f+1 stake proves an honest member timed out; amplify so the
		// committee converges on a timeout certificate
		if p.timeouts.StakeAtRound(timeout.Round) >= p.committee.ValidityThreshold() {
			p.proposer.NotifyTimeoutQuorum(timeout.Round)
		}
		return
	}
	p.proposer.NotifyTimeoutCertificate(tc)
	err = p.certs.Publish(tc)
	if err != nil {
		p.log.Error().Err(err).Msg("could not broadcast timeout certificate")
	}
}

func (p *Primary) onTimeoutCertificate(originID dag.Digest, tc *dag.TimeoutCertificate) {
	err := p.validator.ValidateTimeoutCertificate(tc)
	if err != nil {
		p.log.Warn().Err(err).Msg("invalid timeout certificate dropped")
		p.validator.Flag(originID)
		return
	}
	p.proposer.NotifyTimeoutCertificate(tc)
}

// processCertificate validates and inserts one certificate, then retries any
// parked inputs that were waiting for it. It is the single entry point for
// certificates from broadcast, sync fetches and local certification.
//
// Error returns:
//   - engine.OutdatedInputError for rounds below the GC watermark
//   - engine.UnverifiableInputError when ancestry is missing; the
//     certificate is parked and its parents requested
//   - engine.InvalidInputError for validation failures; the author is
//     flagged
func (p *Primary) processCertificate(originID dag.Digest, cert *dag.Certificate) error {
	certID := cert.ID()
	if p.store.Contains(certID) {
		return nil
	}

	err := p.validator.ValidateCertificate(cert)
	if err != nil {
		p.validator.Flag(cert.Author())
		return engine.NewInvalidInputErrorf("certificate failed validation: %s", err)
	}

	inserted, err := p.store.Insert(cert)
	if missing, ok := dag.AsMissingParentsError(err); ok {
		p.unit.Lock()
		p.pendingCerts[certID] = cert
		p.unit.Unlock()
		for _, parentID := range missing.Missing {
			p.sync.Request(parentID, cert.Round()-1, cert.Author())
		}
		return engine.NewUnverifiableInputError("certificate %v awaits %d ancestors", certID, len(missing.Missing))
	}
	if engine.IsInvalidInputError(err) {
		p.validator.Flag(cert.Author())
		return err
	}
	if engine.IsOutdatedInputError(err) {
		return err
	}
	if err != nil {
		// the store could not guarantee durability; divergent state is worse
		// than a crash, so halt the process
		p.log.Fatal().Err(err).Msg("certificate store write failed")
		return err
	}
	if !inserted {
		return nil
	}

	p.metrics.CertificateStored(cert.Round())
	p.proposer.NotifyCertificate(cert)
	if p.consumer != nil {
		p.consumer.OnCertificateStored(cert)
	}

	p.retryPending()
	return nil
}

// retryPending re-processes parked certificates and headers until no more
// progress is made. Newly unblocked certificates can themselves unblock
// further dependants.
func (p *Primary) retryPending() {
	for {
		p.unit.Lock()
		certs := make([]*dag.Certificate, 0, len(p.pendingCerts))
		for _, cert := range p.pendingCerts {
			if len(p.store.MissingParents(&cert.Header)) == 0 {
				certs = append(certs, cert)
				delete(p.pendingCerts, cert.ID())
			}
		}
		headers := make([]*dag.SignedHeader, 0, len(p.pendingHeaders))
		for _, signed := range p.pendingHeaders {
			if len(p.store.MissingParents(signed.Header)) == 0 {
				headers = append(headers, signed)
				delete(p.pendingHeaders, signed.Header.ID())
			}
		}
		p.unit.Unlock()

		for _, signed := range headers {
			p.onHeader(signed.Header.Author, signed)
		}
		if len(certs) == 0 {
			return
		}
		for _, cert := range certs {
			err := p.processCertificate(cert.Author(), cert)
			if err != nil {
				p.log.Warn().Err(err).Msg("parked certificate still not processable")
			}
		}
	}
}

// PruneBelow drops all per-round bookkeeping for rounds strictly below the
// given round. Called by the consensus engine after garbage collection.
func (p *Primary) PruneBelow(round dag.Round) {
	p.validator.PruneByRound(round)
	p.timeouts.PruneByRound(round)

	p.unit.Lock()
	defer p.unit.Unlock()
	for slot := range p.votesCast {
		if slot.round < round {
			delete(p.votesCast, slot)
		}
	}
	for headerID, signed := range p.pendingHeaders {
		if signed.Header.Round < round {
			delete(p.pendingHeaders, headerID)
		}
	}
	for certID, cert := range p.pendingCerts {
		if cert.Round() < round {
			delete(p.pendingCerts, certID)
		}
	}
}

// syncResponder answers certificate fetch requests from peers out of the
// local DAG store.
type syncResponder struct {
	primary *Primary
}

var _ network.Responder = (*syncResponder)(nil)

func (r *syncResponder) Process(originID dag.Digest, event interface{}) error {
	return engine.NewInvalidInputErrorf("sync channel carries request/response only (%T)", event)
}

func (r *syncResponder) Respond(originID dag.Digest, req interface{}) (interface{}, error) {
	request, ok := req.(*network.CertificateRequest)
	if !ok {
		return nil, engine.NewInvalidInputErrorf("invalid request type (%T)", req)
	}
	response := &network.CertificateResponse{}
	for _, certID := range request.CertIDs {
		cert, ok := r.primary.store.Get(certID)
		if !ok {
			continue
		}
		response.Certificates = append(response.Certificates, cert)
	}
	return response, nil
}
