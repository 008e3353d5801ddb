package dag

// Round is the protocol round number. Round 0 is genesis; every certificate
// at round r > 0 references parent certificates at exactly round r-1.
type Round uint64

// BatchRef is an opaque reference to a transaction batch collected by a
// worker. The core never interprets batch contents; it orders digests.
type BatchRef struct {
	Digest Digest
	Worker uint32
	Size   uint64
}

// Header is a validator's proposed content for a round: the batch digests it
// wants ordered plus the parent certificates that anchor it in the DAG. An
// honest validator proposes exactly one header per round; a second differing
// header for the same (author, round) is equivocation.
type Header struct {
	Author    Digest
	Round     Round
	Parents   DigestList // digests of certificates at Round-1, canonically sorted
	Batches   []BatchRef
	CreatedAt uint64 // unix milliseconds, informational only
}

// ID returns the header digest, which also identifies the certificate that
// may eventually certify this header.
func (h *Header) ID() Digest {
	return MakeDigest(h)
}

// BatchDigests returns the digests of all referenced batches in the header's
// fixed batch order.
func (h *Header) BatchDigests() DigestList {
	digests := make(DigestList, 0, len(h.Batches))
	for _, ref := range h.Batches {
		digests = append(digests, ref.Digest)
	}
	return digests
}
