package dag

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/sha3"
)

// DigestLen is the length of all entity digests in bytes.
const DigestLen = 32

// Digest represents a 32-byte unique identifier for an entity in the
// protocol: certificates, headers, batches and validator identities are all
// addressed by digest.
type Digest [DigestLen]byte

// ZeroDigest is the zero value digest, used as a placeholder for unknown or
// missing entities.
var ZeroDigest = Digest{}

// cborEnc is the canonical CBOR encoding mode used to compute digests. The
// encoding must be deterministic, otherwise digests would diverge between
// nodes for the same logical entity.
var cborEnc cbor.EncMode

func init() {
	var err error
	cborEnc, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("could not initialize canonical cbor encoder: %s", err))
	}
}

// MakeDigest computes the digest of an arbitrary entity by hashing its
// canonical CBOR encoding with SHA3-256.
func MakeDigest(entity interface{}) Digest {
	data, err := cborEnc.Marshal(entity)
	if err != nil {
		// encoding failure on our own in-memory types is a symptom of a
		// corrupted program state, not of bad input
		panic(fmt.Sprintf("could not encode entity for digest: %s", err))
	}
	return Digest(sha3.Sum256(data))
}

// HashToDigest converts a raw hash to a digest. It errors if the input is not
// exactly DigestLen bytes.
func HashToDigest(hash []byte) (Digest, error) {
	var d Digest
	if len(hash) != DigestLen {
		return d, fmt.Errorf("invalid digest length (%d != %d)", len(hash), DigestLen)
	}
	copy(d[:], hash)
	return d, nil
}

// HexToDigest parses a hex string into a digest.
func HexToDigest(s string) (Digest, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return ZeroDigest, fmt.Errorf("could not decode hex digest: %w", err)
	}
	return HashToDigest(raw)
}

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Less defines the canonical order over digests (lexicographic on bytes).
func (d Digest) Less(other Digest) bool {
	return bytes.Compare(d[:], other[:]) < 0
}

// DigestList is a slice of digests with canonical ordering helpers.
type DigestList []Digest

// Sort sorts the list in canonical (ascending lexicographic) order and
// returns it for chaining.
func (l DigestList) Sort() DigestList {
	sort.Slice(l, func(i, j int) bool {
		return l[i].Less(l[j])
	})
	return l
}

// Contains checks whether the list contains the given digest.
func (l DigestList) Contains(target Digest) bool {
	for _, d := range l {
		if d == target {
			return true
		}
	}
	return false
}

// Lookup returns the list as a set for repeated membership checks.
func (l DigestList) Lookup() map[Digest]struct{} {
	set := make(map[Digest]struct{}, len(l))
	for _, d := range l {
		set[d] = struct{}{}
	}
	return set
}
