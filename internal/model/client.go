package model

import "sync/atomic"

// ClientID is an opaque identifier assigned monotonically by the server at
// TCP accept time.
type ClientID uint64

// ClientIDGenerator hands out monotonically increasing, never-zero
// ClientIDs. The zero value is ready to use.
type ClientIDGenerator struct {
	next uint64
}

// Next returns the next ClientID, starting at 1.
func (g *ClientIDGenerator) Next() ClientID {
	return ClientID(atomic.AddUint64(&g.next, 1))
}
