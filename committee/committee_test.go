package committee_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tusknet/tusk/committee"
	"github.com/tusknet/tusk/model/dag"
	"github.com/tusknet/tusk/utils/unittest"
)

func TestCommitteeConstruction(t *testing.T) {
	com, signers := unittest.CommitteeFixture(t, 4)

	assert.Equal(t, uint64(1), com.Epoch())
	assert.Len(t, com.Members(), 4)
	assert.Equal(t, uint64(4000), com.TotalStake())

	for _, signer := range signers {
		assert.True(t, com.Contains(signer.Identity.NodeID))
		assert.Equal(t, uint64(1000), com.StakeOf(signer.Identity.NodeID))
	}
	assert.False(t, com.Contains(unittest.DigestFixture()))
	assert.Equal(t, uint64(0), com.StakeOf(unittest.DigestFixture()))

	// members are in canonical order
	members := com.Members()
	for i := 1; i < len(members); i++ {
		assert.True(t, members[i-1].NodeID.Less(members[i].NodeID))
	}
}

func TestCommitteeConstructionErrors(t *testing.T) {
	_, err := committee.New(1, nil)
	require.Error(t, err)

	_, signers := unittest.CommitteeFixture(t, 2)
	duplicated := dag.IdentityList{signers[0].Identity, signers[0].Identity}
	_, err = committee.New(1, duplicated)
	require.Error(t, err)

	zeroStake := dag.IdentityList{}
	for _, signer := range signers {
		identity := *signer.Identity
		identity.Stake = 0
		zeroStake = append(zeroStake, &identity)
	}
	_, err = committee.New(1, zeroStake)
	require.Error(t, err)
}

func TestStakeThresholds(t *testing.T) {
	cases := []struct {
		total    uint64
		quorum   uint64
		validity uint64
	}{
		{total: 3, quorum: 3, validity: 2},
		{total: 4, quorum: 3, validity: 2},
		{total: 5, quorum: 4, validity: 2},
		{total: 6, quorum: 5, validity: 3},
		{total: 7, quorum: 5, validity: 3},
		{total: 4000, quorum: 2667, validity: 1334},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.quorum, committee.StakeThresholdForQuorum(tc.total), "total %d", tc.total)
		assert.Equal(t, tc.validity, committee.StakeThresholdForValidity(tc.total), "total %d", tc.total)
	}
}

func TestQuorumOverlap(t *testing.T) {
	// any two quorums must overlap in at least a validity threshold of stake,
	// which is the intersection argument behind commit uniqueness
	for total := uint64(4); total < 100; total++ {
		quorum := committee.StakeThresholdForQuorum(total)
		overlap := 2*quorum - total
		assert.GreaterOrEqual(t, overlap, committee.StakeThresholdForValidity(total), "total %d", total)
	}
}
