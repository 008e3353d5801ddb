package dag_test

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tusknet/tusk/model/dag"
)

func TestMakeDigestDeterministic(t *testing.T) {
	header := &dag.Header{
		Author: dag.Digest{1},
		Round:  4,
		Parents: dag.DigestList{
			{2}, {3},
		},
		Batches: []dag.BatchRef{
			{Digest: dag.Digest{4}, Worker: 1, Size: 100},
		},
		CreatedAt: 1000,
	}

	assert.Equal(t, header.ID(), header.ID())

	other := *header
	other.Round = 5
	assert.NotEqual(t, header.ID(), other.ID())

	other = *header
	other.Parents = dag.DigestList{{2}}
	assert.NotEqual(t, header.ID(), other.ID())
}

func TestSigningTagsDisjoint(t *testing.T) {
	id := dag.Digest{7}
	round := dag.Round(2)

	header := dag.HeaderMessage(id)
	vote := dag.VoteMessage(id, round)
	timeout := dag.TimeoutMessage(round)

	assert.NotEqual(t, header, vote)
	assert.NotEqual(t, vote, timeout)
	assert.NotEqual(t, header, timeout)
}

func TestDigestListSortContains(t *testing.T) {
	list := dag.DigestList{{3}, {1}, {2}}.Sort()

	assert.True(t, list[0].Less(list[1]))
	assert.True(t, list[1].Less(list[2]))
	assert.True(t, list.Contains(dag.Digest{2}))
	assert.False(t, list.Contains(dag.Digest{4}))
}

func TestNewIdentity(t *testing.T) {
	sk, err := crypto.GenerateKey()
	require.NoError(t, err)
	pub := crypto.CompressPubkey(&sk.PublicKey)

	identity, err := dag.NewIdentity(pub, "localhost:0", 100)
	require.NoError(t, err)
	assert.Equal(t, pub, identity.PublicKey)
	assert.NotEqual(t, dag.ZeroDigest, identity.NodeID)

	// node IDs are self-authenticating: same key, same ID
	again, err := dag.NewIdentity(pub, "elsewhere:0", 200)
	require.NoError(t, err)
	assert.Equal(t, identity.NodeID, again.NodeID)

	_, err = dag.NewIdentity([]byte{1, 2, 3}, "localhost:0", 100)
	require.Error(t, err)
}

func TestCertificateIdentity(t *testing.T) {
	header := dag.Header{Author: dag.Digest{1}, Round: 1}

	// certificate identity is the header digest, independent of the vote set
	a := &dag.Certificate{Header: header, Signers: dag.DigestList{{2}}, Sigs: [][]byte{{0xaa}}}
	b := &dag.Certificate{Header: header, Signers: dag.DigestList{{3}}, Sigs: [][]byte{{0xbb}}}
	assert.Equal(t, a.ID(), b.ID())
	assert.Equal(t, header.ID(), a.ID())
}

func TestGenesisCertificate(t *testing.T) {
	nodeID := dag.Digest{9}
	genesis := dag.GenesisCertificate(nodeID)

	assert.Equal(t, dag.Round(0), genesis.Round())
	assert.Equal(t, nodeID, genesis.Author())
	assert.Empty(t, genesis.Header.Parents)
	assert.Empty(t, genesis.Signers)

	// genesis certificates are identical on all nodes
	assert.Equal(t, genesis.ID(), dag.GenesisCertificate(nodeID).ID())
}
