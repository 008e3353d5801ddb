package dag

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"
)

// Identity represents a validator's membership in the committee: its node ID,
// network address, stake weight and the public key its votes and headers are
// verified against.
type Identity struct {
	NodeID    Digest
	Address   string
	Stake     uint64
	PublicKey []byte // compressed secp256k1 public key
}

// NewIdentity derives an identity from a compressed public key. The node ID
// is the digest of the public key, so identities are self-authenticating.
func NewIdentity(publicKey []byte, address string, stake uint64) (*Identity, error) {
	if _, err := crypto.DecompressPubkey(publicKey); err != nil {
		return nil, fmt.Errorf("could not decompress public key: %w", err)
	}
	return &Identity{
		NodeID:    Digest(sha3.Sum256(publicKey)),
		Address:   address,
		Stake:     stake,
		PublicKey: publicKey,
	}, nil
}

// String returns a short human-readable representation of the identity.
func (iy Identity) String() string {
	return fmt.Sprintf("%s@%s=%d", iy.NodeID, iy.Address, iy.Stake)
}

// IdentityList is a canonically ordered list of identities.
type IdentityList []*Identity

// Sort orders the list canonically by node ID and returns it for chaining.
// All nodes must use the same order, as leader selection and tie-breaking
// index into it.
func (il IdentityList) Sort() IdentityList {
	sort.Slice(il, func(i, j int) bool {
		return il[i].NodeID.Less(il[j].NodeID)
	})
	return il
}

// NodeIDs returns the node IDs in list order.
func (il IdentityList) NodeIDs() DigestList {
	ids := make(DigestList, 0, len(il))
	for _, iy := range il {
		ids = append(ids, iy.NodeID)
	}
	return ids
}

// TotalStake returns the sum of stake over all identities in the list.
func (il IdentityList) TotalStake() uint64 {
	var total uint64
	for _, iy := range il {
		total += iy.Stake
	}
	return total
}

// ByNodeID returns the identity with the given node ID, if it exists.
func (il IdentityList) ByNodeID(nodeID Digest) (*Identity, bool) {
	for _, iy := range il {
		if iy.NodeID == nodeID {
			return iy, true
		}
	}
	return nil, false
}

// Filter returns the sub-list of identities satisfying the given predicate.
func (il IdentityList) Filter(keep func(*Identity) bool) IdentityList {
	var filtered IdentityList
	for _, iy := range il {
		if keep(iy) {
			filtered = append(filtered, iy)
		}
	}
	return filtered
}
