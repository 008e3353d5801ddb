package dag

// Signing tags ensure that a signature produced for one message type can
// never be replayed as another.
const (
	TagHeader  = "tusk-header-v1"
	TagVote    = "tusk-vote-v1"
	TagTimeout = "tusk-timeout-v1"
)

// SignedHeader is the broadcast form of a header proposal: the header plus
// the author's signature over it. The signature is not part of the header
// digest, so all vote sets certifying the same content converge on the same
// certificate identity.
type SignedHeader struct {
	Header *Header
	Sig    []byte
}

// HeaderMessage returns the digest an author signs to propose a header.
func HeaderMessage(headerID Digest) Digest {
	return MakeDigest(struct {
		Tag      string
		HeaderID Digest
	}{TagHeader, headerID})
}

// Vote is a validator's signed attestation that it has validated a header:
// well-formed, no duplicate batch digests, parents satisfy the quorum rule.
type Vote struct {
	HeaderID Digest
	Round    Round
	Voter    Digest
	Sig      []byte
}

// ID returns a unique identifier for the vote.
func (v *Vote) ID() Digest {
	return MakeDigest(v)
}

// VoteMessage returns the digest a voter signs to attest to a header.
func VoteMessage(headerID Digest, round Round) Digest {
	return MakeDigest(struct {
		Tag      string
		HeaderID Digest
		Round    Round
	}{TagVote, headerID, round})
}

// TimeoutVote is a validator's signed attestation that it has given up
// waiting for round Round to complete. A quorum of these forms a timeout
// certificate which lets proposers advance without full parent quorum.
type TimeoutVote struct {
	Round Round
	Voter Digest
	Sig   []byte
}

// ID returns a unique identifier for the timeout vote.
func (t *TimeoutVote) ID() Digest {
	return MakeDigest(t)
}

// TimeoutMessage returns the digest a voter signs to attest to a round
// timeout.
func TimeoutMessage(round Round) Digest {
	return MakeDigest(struct {
		Tag   string
		Round Round
	}{TagTimeout, round})
}

// TimeoutCertificate proves that a quorum of stake timed out waiting for the
// given round, authorizing proposers to advance past it.
type TimeoutCertificate struct {
	Round   Round
	Signers DigestList // node IDs, canonically sorted
	Sigs    [][]byte   // index-aligned with Signers
}

// ID returns a unique identifier for the timeout certificate.
func (tc *TimeoutCertificate) ID() Digest {
	return MakeDigest(tc)
}
