package websocket

import (
	"slices"
	"sync"
)

// Channel is a named subset of a Host's connections used for scoped
// broadcasts, such as a chat room.
//
// Channels are created by Host.Channel. A Channel closes itself and leaves
// the Host once its last member unbinds; a closed Channel refuses new
// members, and Host.Channel hands out a fresh one under the same name.
//
// Connections unbind automatically when they go away.
type Channel struct {
	name string
	host *Host

	mu      sync.Mutex
	members []*Conn
	closed  bool
}

func newChannel(name string, host *Host) *Channel {
	return &Channel{name: name, host: host}
}

// Name returns the channel name.
func (ch *Channel) Name() string { return ch.name }

// Bind adds c to the channel. Binding a member again is a no-op.
//
// Only connections accepted by the channel's Host can be bound; client
// connections from Dial and connections of other hosts yield ErrForeignConn.
func (ch *Channel) Bind(c *Conn) error {
	if c.host != ch.host || c.role != RoleServer {
		return ErrForeignConn
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.closed {
		return ErrChannelClosed
	}
	if slices.Contains(ch.members, c) {
		return nil
	}
	if !c.bind(ch) {
		return ErrClosed
	}
	ch.members = append(ch.members, c)
	return nil
}

// Unbind removes c from the channel. Removing the last member closes the
// channel.
func (ch *Channel) Unbind(c *Conn) {
	ch.mu.Lock()
	i := slices.Index(ch.members, c)
	if i < 0 {
		ch.mu.Unlock()
		return
	}
	ch.members = slices.Delete(ch.members, i, i+1)
	c.unbind(ch)

	last := len(ch.members) == 0 && !ch.closed
	if last {
		ch.closed = true
	}
	ch.mu.Unlock()

	if last {
		ch.host.removeChannel(ch)
	}
}

// Members returns a snapshot of the members in bind order.
func (ch *Channel) Members() []*Conn {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return slices.Clone(ch.members)
}

// Len returns the number of members.
func (ch *Channel) Len() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.members)
}

// Broadcast is Host.Broadcast scoped to the channel members.
func (ch *Channel) Broadcast(v any, filter Filter) error {
	return broadcast(ch.Members(), v, filter)
}

// Close unbinds every member and removes the channel from its Host.
// The member connections stay open.
func (ch *Channel) Close() {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return
	}
	ch.closed = true
	members := ch.members
	ch.members = nil
	ch.mu.Unlock()

	for _, c := range members {
		c.unbind(ch)
	}
	ch.host.removeChannel(ch)
}

func (ch *Channel) isClosed() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.closed
}
