// Package mocknet provides an in-process transport connecting multiple node
// instances within one test. Delivery is synchronous and reliable; tests
// exercising loss or reordering drop or shuffle at the caller.
package mocknet

import (
	"context"
	"fmt"
	"sync"

	"github.com/tusknet/tusk/model/dag"
	"github.com/tusknet/tusk/network"
)

// Hub connects the mock networks of all nodes in a test.
type Hub struct {
	mu       sync.RWMutex
	networks map[dag.Digest]*Network
}

func NewHub() *Hub {
	return &Hub{
		networks: make(map[dag.Digest]*Network),
	}
}

// AddNode creates the mock network for one node and attaches it to the hub.
func (h *Hub) AddNode(nodeID dag.Digest) *Network {
	h.mu.Lock()
	defer h.mu.Unlock()
	net := &Network{
		hub:     h,
		nodeID:  nodeID,
		engines: make(map[network.Channel]network.Engine),
	}
	h.networks[nodeID] = net
	return net
}

func (h *Hub) network(nodeID dag.Digest) (*Network, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	net, ok := h.networks[nodeID]
	return net, ok
}

func (h *Hub) all() []*Network {
	h.mu.RLock()
	defer h.mu.RUnlock()
	nets := make([]*Network, 0, len(h.networks))
	for _, net := range h.networks {
		nets = append(nets, net)
	}
	return nets
}

// Network implements network.Network for one node.
type Network struct {
	hub    *Hub
	nodeID dag.Digest

	mu      sync.RWMutex
	engines map[network.Channel]network.Engine
}

var _ network.Network = (*Network)(nil)

func (n *Network) Register(channel network.Channel, engine network.Engine) (network.Conduit, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.engines[channel]; ok {
		return nil, fmt.Errorf("engine already registered on channel %d", channel)
	}
	n.engines[channel] = engine
	return &conduit{net: n, channel: channel}, nil
}

func (n *Network) engine(channel network.Channel) (network.Engine, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	engine, ok := n.engines[channel]
	return engine, ok
}

type conduit struct {
	net     *Network
	channel network.Channel
}

var _ network.Conduit = (*conduit)(nil)

// Publish delivers the event to all other registered nodes synchronously.
func (c *conduit) Publish(event interface{}) error {
	for _, peer := range c.net.hub.all() {
		if peer.nodeID == c.net.nodeID {
			continue
		}
		engine, ok := peer.engine(c.channel)
		if !ok {
			continue
		}
		_ = engine.Process(c.net.nodeID, event)
	}
	return nil
}

func (c *conduit) Unicast(targetID dag.Digest, event interface{}) error {
	peer, ok := c.net.hub.network(targetID)
	if !ok {
		return fmt.Errorf("unknown target node (%v)", targetID)
	}
	engine, ok := peer.engine(c.channel)
	if !ok {
		return fmt.Errorf("no engine on channel %d at target (%v)", c.channel, targetID)
	}
	return engine.Process(c.net.nodeID, event)
}

// Request delivers the request to the responder engine registered at the
// target and returns its response.
func (c *conduit) Request(ctx context.Context, targetID dag.Digest, req interface{}) (interface{}, error) {
	peer, ok := c.net.hub.network(targetID)
	if !ok {
		return nil, fmt.Errorf("unknown target node (%v)", targetID)
	}
	responder, ok := peer.engine(c.channel)
	if !ok {
		return nil, fmt.Errorf("no engine on channel %d at target (%v)", c.channel, targetID)
	}
	rsp, ok := responder.(network.Responder)
	if !ok {
		return nil, fmt.Errorf("engine on channel %d cannot answer requests", c.channel)
	}
	return rsp.Respond(c.net.nodeID, req)
}
