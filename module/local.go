package module

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"

	"github.com/tusknet/tusk/model/dag"
)

// StakingKey implements Local backed by an in-memory secp256k1 private key.
type StakingKey struct {
	nodeID dag.Digest
	sk     *ecdsa.PrivateKey
}

var _ Local = (*StakingKey)(nil)

// NewStakingKey wraps the given private key as the local node identity. The
// node ID is derived from the compressed public key, matching
// dag.NewIdentity.
func NewStakingKey(sk *ecdsa.PrivateKey) *StakingKey {
	pub := crypto.CompressPubkey(&sk.PublicKey)
	return &StakingKey{
		nodeID: dag.Digest(sha3.Sum256(pub)),
		sk:     sk,
	}
}

// NodeID returns the node ID of the local node.
func (k *StakingKey) NodeID() dag.Digest {
	return k.nodeID
}

// Sign signs the given message digest with the node's staking key.
func (k *StakingKey) Sign(msg dag.Digest) ([]byte, error) {
	sig, err := crypto.Sign(msg[:], k.sk)
	if err != nil {
		return nil, fmt.Errorf("could not sign message: %w", err)
	}
	return sig, nil
}

// VerifySignature checks a signature produced by Sign against the signer's
// compressed public key. Signatures carry a recovery byte which is ignored
// for verification.
func VerifySignature(publicKey []byte, msg dag.Digest, sig []byte) bool {
	if len(sig) < 64 {
		return false
	}
	return crypto.VerifySignature(publicKey, msg[:], sig[:64])
}
