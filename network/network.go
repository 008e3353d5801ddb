// Package network defines the transport collaborator interfaces. The core
// requires only async publish and request/response primitives; delivery is
// at-least-once with no ordering guarantee between peers. Wire encoding,
// peer discovery and connection management live outside the core.
package network

import (
	"context"

	"github.com/tusknet/tusk/model/dag"
)

// Channel separates message streams of the different protocol surfaces.
type Channel uint8

const (
	ChannelHeaders Channel = iota + 1
	ChannelVotes
	ChannelCertificates
	ChannelSync
)

// Engine is the receiving side of a channel. Process is called once per
// delivered message; duplicate delivery is possible and engines must be
// idempotent. Returned errors are absorbed by the transport and logged.
type Engine interface {
	Process(originID dag.Digest, event interface{}) error
}

// Conduit is a helper to directly send messages on a specific channel.
type Conduit interface {

	// Publish broadcasts the event to all committee members.
	Publish(event interface{}) error

	// Unicast sends the event to one target, fire-and-forget.
	Unicast(targetID dag.Digest, event interface{}) error

	// Request performs a request/response round-trip with the target. The
	// context bounds the wait.
	Request(ctx context.Context, targetID dag.Digest, req interface{}) (interface{}, error)
}

// Responder is implemented by engines that answer request/response traffic
// on their channel in addition to one-way messages.
type Responder interface {
	Engine
	Respond(originID dag.Digest, req interface{}) (interface{}, error)
}

// Network registers engines on channels and hands out conduits.
type Network interface {
	Register(channel Channel, engine Engine) (Conduit, error)
}
