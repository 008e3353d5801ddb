package committee_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tusknet/tusk/committee"
	"github.com/tusknet/tusk/model/dag"
	"github.com/tusknet/tusk/utils/unittest"
)

func TestLeaderRounds(t *testing.T) {
	com, _ := unittest.CommitteeFixture(t, 4)
	schedule, err := committee.NewLeaderSchedule(com, 2)
	require.NoError(t, err)

	assert.False(t, schedule.IsLeaderRound(0))
	assert.False(t, schedule.IsLeaderRound(1))
	assert.True(t, schedule.IsLeaderRound(2))
	assert.False(t, schedule.IsLeaderRound(3))
	assert.True(t, schedule.IsLeaderRound(4))

	assert.Equal(t, dag.Round(2), schedule.NextLeaderRound(0))
	assert.Equal(t, dag.Round(2), schedule.NextLeaderRound(1))
	assert.Equal(t, dag.Round(4), schedule.NextLeaderRound(2))
	assert.Equal(t, dag.Round(4), schedule.NextLeaderRound(3))

	_, err = committee.NewLeaderSchedule(com, 0)
	require.Error(t, err)
}

func TestLeaderSelectionDeterministic(t *testing.T) {
	com, _ := unittest.CommitteeFixture(t, 7)

	a, err := committee.NewLeaderSchedule(com, 2)
	require.NoError(t, err)
	b, err := committee.NewLeaderSchedule(com, 2)
	require.NoError(t, err)

	for round := dag.Round(2); round <= 100; round += 2 {
		leaderA, err := a.LeaderForRound(round)
		require.NoError(t, err)
		leaderB, err := b.LeaderForRound(round)
		require.NoError(t, err)
		assert.Equal(t, leaderA, leaderB)
		assert.True(t, com.Contains(leaderA))
	}

	_, err = a.LeaderForRound(3)
	require.Error(t, err)
	_, err = a.LeaderForRound(0)
	require.Error(t, err)
}

func TestLeaderSelectionCoversCommittee(t *testing.T) {
	com, _ := unittest.CommitteeFixture(t, 4)
	schedule, err := committee.NewLeaderSchedule(com, 2)
	require.NoError(t, err)

	// with equal stake, every member should lead eventually
	elected := make(map[dag.Digest]int)
	for round := dag.Round(2); round <= 400; round += 2 {
		leader, err := schedule.LeaderForRound(round)
		require.NoError(t, err)
		elected[leader]++
	}
	assert.Len(t, elected, 4)
}
