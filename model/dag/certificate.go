package dag

// Certificate is the atomic unit of the DAG: a header together with a
// stake-weighted quorum of votes attesting to it. Once formed, a certificate
// is immutable and is referenced by digest from headers of the next round.
type Certificate struct {
	Header  Header
	Signers DigestList // voter node IDs, canonically sorted
	Sigs    [][]byte   // vote signatures, index-aligned with Signers
}

// ID returns the certificate digest. A certificate is identified by the
// digest of its header, so two vote sets certifying the same header yield
// the same certificate identity.
func (c *Certificate) ID() Digest {
	return c.Header.ID()
}

// Round returns the round of the certified header.
func (c *Certificate) Round() Round {
	return c.Header.Round
}

// Author returns the author of the certified header.
func (c *Certificate) Author() Digest {
	return c.Header.Author
}

// GenesisCertificate returns the round-0 certificate for the given committee
// member. Genesis certificates exist by convention for every member, carry
// no parents, no payload and no signatures, and are identical on all nodes.
func GenesisCertificate(nodeID Digest) *Certificate {
	return &Certificate{
		Header: Header{
			Author: nodeID,
			Round:  0,
		},
	}
}

// CommittedSubDag is the causal closure of a committed leader certificate,
// minus everything already committed by earlier leaders, linearized into the
// deterministic commit order.
type CommittedSubDag struct {
	Leader       *Certificate
	LeaderRound  Round
	SequenceIdx  uint64
	Certificates []*Certificate // commit order: ascending round, author, digest
}
