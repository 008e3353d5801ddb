package primary

import (
	"fmt"
	"sync"

	"github.com/gammazero/workerpool"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/tusknet/tusk/committee"
	"github.com/tusknet/tusk/model/dag"
	"github.com/tusknet/tusk/module"
)

// Validator performs all protocol validation of inbound headers, votes,
// certificates and timeout certificates. It also tracks the first header
// seen per (author, round) to detect equivocation, and keeps a record of
// flagged peers.
type Validator struct {
	log        zerolog.Logger
	committee  *committee.Committee
	verifiers  *workerpool.WorkerPool
	maxPayload uint64

	mu         sync.Mutex
	firstSeen  map[proposalSlot]*dag.Header
	flagged    map[dag.Digest]struct{}
	flagsTotal *atomic.Uint64
}

type proposalSlot struct {
	author dag.Digest
	round  dag.Round
}

func NewValidator(log zerolog.Logger, com *committee.Committee, verifierCount int, maxPayload uint64) *Validator {
	return &Validator{
		log:        log.With().Str("component", "validator").Logger(),
		committee:  com,
		verifiers:  workerpool.New(verifierCount),
		maxPayload: maxPayload,
		firstSeen:  make(map[proposalSlot]*dag.Header),
		flagged:    make(map[dag.Digest]struct{}),
		flagsTotal: atomic.NewUint64(0),
	}
}

// Done stops the verifier pool, draining queued work.
func (v *Validator) Done() {
	v.verifiers.StopWait()
}

// ValidateHeader checks a signed header proposal for structural and protocol
// validity. Parent presence is not checked here; the caller consults the DAG
// store and defers to the synchronizer for missing ancestry.
//
// Error returns:
//   - dag.InvalidHeaderError for malformed or unauthorized headers
//   - dag.DoubleProposalError if the author already proposed a differing
//     header for this round; the author is flagged
func (v *Validator) ValidateHeader(signed *dag.SignedHeader) error {
	header := signed.Header
	if header == nil {
		return fmt.Errorf("signed header without header")
	}

	author, ok := v.committee.Identity(header.Author)
	if !ok {
		return dag.NewInvalidHeaderErrorf(header, "author is not a committee member: %v", header.Author)
	}
	if header.Round == 0 {
		return dag.NewInvalidHeaderErrorf(header, "round 0 is genesis, headers start at round 1")
	}

	// no duplicate batch digests within one header, and the referenced
	// payload stays within the protocol bound
	var payload uint64
	seenBatches := make(map[dag.Digest]struct{}, len(header.Batches))
	for _, ref := range header.Batches {
		if _, ok := seenBatches[ref.Digest]; ok {
			return dag.NewInvalidHeaderErrorf(header, "duplicate batch digest %v", ref.Digest)
		}
		seenBatches[ref.Digest] = struct{}{}
		if ref.Size == 0 {
			return dag.NewInvalidHeaderErrorf(header, "zero-size batch %v", ref.Digest)
		}
		payload += ref.Size
	}
	if payload > v.maxPayload {
		return dag.NewInvalidHeaderErrorf(header, "payload size %d exceeds bound %d", payload, v.maxPayload)
	}

	// no duplicate parents
	seenParents := make(map[dag.Digest]struct{}, len(header.Parents))
	for _, parentID := range header.Parents {
		if _, ok := seenParents[parentID]; ok {
			return dag.NewInvalidHeaderErrorf(header, "duplicate parent %v", parentID)
		}
		seenParents[parentID] = struct{}{}
	}

	headerID := header.ID()
	if !module.VerifySignature(author.PublicKey, dag.HeaderMessage(headerID), signed.Sig) {
		return dag.NewInvalidHeaderErrorf(header, "invalid author signature: %w", dag.ErrInvalidSignature)
	}

	// equivocation check: at most one header per (author, round) is ever
	// considered for voting; a differing second header flags the author
	v.mu.Lock()
	defer v.mu.Unlock()
	slot := proposalSlot{author: header.Author, round: header.Round}
	first, ok := v.firstSeen[slot]
	if !ok {
		v.firstSeen[slot] = header
		return nil
	}
	if first.ID() != headerID {
		v.flagLocked(header.Author)
		return dag.NewDoubleProposalErrorf(first, header,
			"double proposal by %v at round %d", header.Author, header.Round)
	}
	return nil
}

// ValidateVote checks a vote for the given expected header.
//
// Error returns dag.InvalidVoteError for malformed, unauthorized or
// mismatched votes.
func (v *Validator) ValidateVote(vote *dag.Vote, headerID dag.Digest, round dag.Round) error {
	voter, ok := v.committee.Identity(vote.Voter)
	if !ok {
		return dag.NewInvalidVoteErrorf(vote, "voter is not a committee member: %v", vote.Voter)
	}
	if vote.HeaderID != headerID {
		return dag.NewInvalidVoteErrorf(vote, "vote for header %v, expected %v", vote.HeaderID, headerID)
	}
	if vote.Round != round {
		return dag.NewInvalidVoteErrorf(vote, "vote for round %d, expected %d", vote.Round, round)
	}
	if !module.VerifySignature(voter.PublicKey, dag.VoteMessage(vote.HeaderID, vote.Round), vote.Sig) {
		return dag.NewInvalidVoteErrorf(vote, "invalid voter signature: %w", dag.ErrInvalidSignature)
	}
	return nil
}

// ValidateCertificate checks a certificate's structure and its quorum of
// vote signatures. Signature verification for the individual votes fans out
// over the verifier pool. Parent presence and parent quorum are enforced at
// DAG insertion.
//
// Error returns dag.InvalidCertificateError.
func (v *Validator) ValidateCertificate(cert *dag.Certificate) error {
	if cert.Round() == 0 {
		// genesis certificates are fixed by convention and carry no votes
		if len(cert.Signers) != 0 || len(cert.Header.Parents) != 0 {
			return dag.NewInvalidCertificateErrorf(cert, "malformed genesis certificate")
		}
		if !v.committee.Contains(cert.Author()) {
			return dag.NewInvalidCertificateErrorf(cert, "genesis author is not a committee member")
		}
		return nil
	}

	if !v.committee.Contains(cert.Author()) {
		return dag.NewInvalidCertificateErrorf(cert, "author is not a committee member: %v", cert.Author())
	}
	if len(cert.Signers) != len(cert.Sigs) {
		return dag.NewInvalidCertificateErrorf(cert, "signer/signature count mismatch (%d != %d)",
			len(cert.Signers), len(cert.Sigs))
	}

	// quorum stake over distinct signers
	var stake uint64
	seen := make(map[dag.Digest]struct{}, len(cert.Signers))
	for _, signer := range cert.Signers {
		if _, ok := seen[signer]; ok {
			return dag.NewInvalidCertificateErrorf(cert, "duplicate signer %v", signer)
		}
		seen[signer] = struct{}{}
		stake += v.committee.StakeOf(signer)
	}
	if stake < v.committee.QuorumThreshold() {
		return dag.NewInvalidCertificateErrorf(cert, "vote stake %d below quorum %d",
			stake, v.committee.QuorumThreshold())
	}

	// verify vote signatures concurrently; distinct votes are independent
	msg := dag.VoteMessage(cert.ID(), cert.Round())
	var wg sync.WaitGroup
	invalid := atomic.NewInt32(-1)
	for i := range cert.Signers {
		i := i
		signer, ok := v.committee.Identity(cert.Signers[i])
		if !ok {
			return dag.NewInvalidCertificateErrorf(cert, "signer is not a committee member: %v", cert.Signers[i])
		}
		wg.Add(1)
		v.verifiers.Submit(func() {
			defer wg.Done()
			if !module.VerifySignature(signer.PublicKey, msg, cert.Sigs[i]) {
				invalid.Store(int32(i))
			}
		})
	}
	wg.Wait()
	if idx := invalid.Load(); idx >= 0 {
		return dag.NewInvalidCertificateErrorf(cert, "invalid vote signature from %v: %w",
			cert.Signers[idx], dag.ErrInvalidSignature)
	}

	return nil
}

// ValidateTimeoutVote checks a single round-timeout attestation.
func (v *Validator) ValidateTimeoutVote(timeout *dag.TimeoutVote) error {
	voter, ok := v.committee.Identity(timeout.Voter)
	if !ok {
		return fmt.Errorf("timeout voter is not a committee member (%v): %w", timeout.Voter, dag.ErrUnknownSigner)
	}
	if !module.VerifySignature(voter.PublicKey, dag.TimeoutMessage(timeout.Round), timeout.Sig) {
		return fmt.Errorf("invalid timeout signature from %v: %w", timeout.Voter, dag.ErrInvalidSignature)
	}
	return nil
}

// ValidateTimeoutCertificate checks that a timeout certificate carries a
// quorum of valid timeout attestations for its round.
func (v *Validator) ValidateTimeoutCertificate(tc *dag.TimeoutCertificate) error {
	if len(tc.Signers) != len(tc.Sigs) {
		return fmt.Errorf("timeout signer/signature count mismatch (%d != %d)", len(tc.Signers), len(tc.Sigs))
	}
	var stake uint64
	seen := make(map[dag.Digest]struct{}, len(tc.Signers))
	msg := dag.TimeoutMessage(tc.Round)
	for i, signer := range tc.Signers {
		if _, ok := seen[signer]; ok {
			return fmt.Errorf("duplicate timeout signer %v", signer)
		}
		seen[signer] = struct{}{}
		identity, ok := v.committee.Identity(signer)
		if !ok {
			return fmt.Errorf("timeout signer is not a committee member (%v): %w", signer, dag.ErrUnknownSigner)
		}
		if !module.VerifySignature(identity.PublicKey, msg, tc.Sigs[i]) {
			return fmt.Errorf("invalid timeout signature from %v: %w", signer, dag.ErrInvalidSignature)
		}
		stake += identity.Stake
	}
	if stake < v.committee.QuorumThreshold() {
		return fmt.Errorf("timeout stake %d below quorum %d", stake, v.committee.QuorumThreshold())
	}
	return nil
}

// Flag records a protocol violation by the given peer for the operator; the
// core never excludes flagged peers itself, as that is a slashing decision.
func (v *Validator) Flag(nodeID dag.Digest) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.flagLocked(nodeID)
}

func (v *Validator) flagLocked(nodeID dag.Digest) {
	if _, ok := v.flagged[nodeID]; !ok {
		v.flagged[nodeID] = struct{}{}
		v.flagsTotal.Inc()
		v.log.Warn().Hex("peer", nodeID[:8]).Msg("peer flagged for protocol violation")
	}
}

// Flagged returns whether the given peer has been flagged.
func (v *Validator) Flagged(nodeID dag.Digest) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.flagged[nodeID]
	return ok
}

// PruneByRound drops equivocation tracking state for rounds strictly below
// the given round.
func (v *Validator) PruneByRound(round dag.Round) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for slot := range v.firstSeen {
		if slot.round < round {
			delete(v.firstSeen, slot)
		}
	}
}
