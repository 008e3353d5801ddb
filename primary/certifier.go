package primary

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tusknet/tusk/committee"
	"github.com/tusknet/tusk/model/dag"
	"github.com/tusknet/tusk/module"
)

// Certifier aggregates votes for this node's own header proposals into
// certificates. Vote collection is idempotent under duplicate delivery, and
// at most one certificate per (author, round) is ever assembled locally:
// once quorum is reached for a round, further votes are no-ops.
type Certifier struct {
	log       zerolog.Logger
	committee *committee.Committee
	local     module.Local
	validator *Validator

	mu        sync.Mutex
	round     dag.Round
	header    *dag.Header
	headerID  dag.Digest
	votes     map[dag.Digest][]byte // voter -> signature
	stake     uint64
	certified bool
}

func NewCertifier(log zerolog.Logger, com *committee.Committee, local module.Local, validator *Validator) *Certifier {
	return &Certifier{
		log:       log.With().Str("component", "certifier").Logger(),
		committee: com,
		local:     local,
		validator: validator,
	}
}

// TrackHeader begins vote collection for a freshly proposed own header,
// superseding collection for any earlier round. The proposer's own vote is
// added immediately.
func (c *Certifier) TrackHeader(header *dag.Header) error {
	if header.Author != c.local.NodeID() {
		return fmt.Errorf("certifier only tracks own headers")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.header != nil && header.Round <= c.round {
		return fmt.Errorf("tracked round must increase (%d <= %d)", header.Round, c.round)
	}

	c.round = header.Round
	c.header = header
	c.headerID = header.ID()
	c.votes = make(map[dag.Digest][]byte)
	c.stake = 0
	c.certified = false

	// vote for our own header
	sig, err := c.local.Sign(dag.VoteMessage(c.headerID, c.round))
	if err != nil {
		return fmt.Errorf("could not sign own header: %w", err)
	}
	c.addVoteLocked(c.local.NodeID(), sig)

	return nil
}

// AddVote processes one vote for the currently tracked header. It returns
// the assembled certificate exactly once, when the vote pushes the collected
// stake over quorum; all other calls return nil.
//
// Error returns:
//   - engine-level invalid input errors from validation (caller logs/flags)
//   - dag.DoubleVoteError if the voter sent differing signatures
func (c *Certifier) AddVote(vote *dag.Vote) (*dag.Certificate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.header == nil || vote.Round != c.round {
		// votes for superseded rounds are obsolete, not faults
		return nil, nil
	}

	err := c.validator.ValidateVote(vote, c.headerID, c.round)
	if err != nil {
		return nil, fmt.Errorf("could not validate vote: %w", err)
	}

	if c.certified {
		return nil, nil
	}

	existing, ok := c.votes[vote.Voter]
	if ok {
		// duplicate delivery of the same vote is a no-op
		if string(existing) == string(vote.Sig) {
			return nil, nil
		}
		first := &dag.Vote{HeaderID: c.headerID, Round: c.round, Voter: vote.Voter, Sig: existing}
		return nil, dag.NewDoubleVoteErrorf(first, vote,
			"double vote by %v at round %d", vote.Voter, c.round)
	}

	c.addVoteLocked(vote.Voter, vote.Sig)

	if c.stake < c.committee.QuorumThreshold() {
		return nil, nil
	}
	c.certified = true

	cert := &dag.Certificate{
		Header: *c.header,
	}
	for _, signer := range c.signersLocked() {
		cert.Signers = append(cert.Signers, signer)
		cert.Sigs = append(cert.Sigs, c.votes[signer])
	}

	c.log.Debug().
		Uint64("round", uint64(c.round)).
		Int("votes", len(cert.Signers)).
		Msg("own header certified")

	return cert, nil
}

func (c *Certifier) addVoteLocked(voter dag.Digest, sig []byte) {
	c.votes[voter] = sig
	c.stake += c.committee.StakeOf(voter)
}

// signersLocked returns the collected voters in canonical order.
func (c *Certifier) signersLocked() dag.DigestList {
	signers := make(dag.DigestList, 0, len(c.votes))
	for voter := range c.votes {
		signers = append(signers, voter)
	}
	return signers.Sort()
}

// Round returns the round currently being certified.
func (c *Certifier) Round() dag.Round {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.round
}
