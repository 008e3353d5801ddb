// Package committee provides the immutable, epoch-scoped validator
// membership snapshot consumed by all protocol components, together with the
// deterministic leader schedule derived from it.
package committee

import (
	"github.com/tusknet/tusk/model/dag"
)

// Committee is the static membership for one epoch: validator identities,
// stake weights and the derived Byzantine quorum thresholds. It is immutable
// for the life of the epoch and safe for unsynchronized concurrent reads.
type Committee struct {
	epoch      uint64
	members    dag.IdentityList
	byNodeID   map[dag.Digest]*dag.Identity
	totalStake uint64
	quorum     uint64
	validity   uint64
}

// New creates a committee snapshot from the given members. Construction
// errors are configuration errors and fatal at startup: an empty committee,
// zero total stake or duplicate members make quorum formation impossible.
func New(epoch uint64, members dag.IdentityList) (*Committee, error) {
	if len(members) == 0 {
		return nil, dag.NewConfigurationErrorf("committee must not be empty")
	}

	sorted := append(dag.IdentityList{}, members...).Sort()
	byNodeID := make(map[dag.Digest]*dag.Identity, len(sorted))
	for _, member := range sorted {
		if _, ok := byNodeID[member.NodeID]; ok {
			return nil, dag.NewConfigurationErrorf("duplicate committee member (%v)", member.NodeID)
		}
		byNodeID[member.NodeID] = member
	}

	totalStake := sorted.TotalStake()
	if totalStake == 0 {
		return nil, dag.NewConfigurationErrorf("committee total stake must be positive")
	}

	return &Committee{
		epoch:      epoch,
		members:    sorted,
		byNodeID:   byNodeID,
		totalStake: totalStake,
		quorum:     StakeThresholdForQuorum(totalStake),
		validity:   StakeThresholdForValidity(totalStake),
	}, nil
}

// Epoch returns the epoch this committee snapshot is valid for.
func (c *Committee) Epoch() uint64 {
	return c.epoch
}

// Members returns all committee members in canonical order. Callers must not
// mutate the returned list.
func (c *Committee) Members() dag.IdentityList {
	return c.members
}

// Identity returns the member with the given node ID, if it exists.
func (c *Committee) Identity(nodeID dag.Digest) (*dag.Identity, bool) {
	identity, ok := c.byNodeID[nodeID]
	return identity, ok
}

// Contains checks whether the given node ID is a committee member.
func (c *Committee) Contains(nodeID dag.Digest) bool {
	_, ok := c.byNodeID[nodeID]
	return ok
}

// TotalStake returns the total stake of all members.
func (c *Committee) TotalStake() uint64 {
	return c.totalStake
}

// QuorumThreshold returns the minimal stake (2f+1 of 3f+1) required for a
// vote quorum, a parent quorum and the commit rule.
func (c *Committee) QuorumThreshold() uint64 {
	return c.quorum
}

// ValidityThreshold returns the minimal stake (f+1) guaranteed to include at
// least one honest member.
func (c *Committee) ValidityThreshold() uint64 {
	return c.validity
}

// StakeOf returns the stake of the given member, or 0 for non-members.
func (c *Committee) StakeOf(nodeID dag.Digest) uint64 {
	identity, ok := c.byNodeID[nodeID]
	if !ok {
		return 0
	}
	return identity.Stake
}

// StakeThresholdForQuorum returns the smallest integer t such that
// t > 2/3 * totalStake, the minimal stake required for a Byzantine quorum.
func StakeThresholdForQuorum(totalStake uint64) uint64 {
	floorOneThird := totalStake / 3 // integer division, includes floor
	res := 2 * floorOneThird
	divRemainder := totalStake % 3
	if divRemainder <= 1 {
		res = res + 1
	} else {
		res += divRemainder
	}
	return res
}

// StakeThresholdForValidity returns the smallest integer t such that
// t > 1/3 * totalStake, guaranteeing at least one honest member among any
// set holding that much stake.
func StakeThresholdForValidity(totalStake uint64) uint64 {
	return totalStake/3 + 1
}
