package registry

import (
	"github.com/google/uuid"

	"github.com/rmacdonaldsmith/meshrelay-go/internal/telemetry"
	linkpkg "github.com/rmacdonaldsmith/meshrelay-go/pkg/link"
)

// EchoPrefix is prepended to the copy of a leaf message sent back to its sender
const EchoPrefix = "ECHO: "

// LeafEntry is one registered leaf
type LeafEntry struct {
	ID   string
	Link linkpkg.Link
}

// Leaves holds the leaf links of one node in registration order.
// It is not safe for concurrent use; the owning node serializes access.
type Leaves struct {
	order []string
	links map[string]linkpkg.Link
}

// NewLeaves creates an empty leaf registry
func NewLeaves() *Leaves {
	return &Leaves{links: make(map[string]linkpkg.Link)}
}

// Register adds l and returns its newly assigned id
func (r *Leaves) Register(l linkpkg.Link) string {
	id := uuid.NewString()
	r.order = append(r.order, id)
	r.links[id] = l
	telemetry.LeafLinks.Inc()
	return id
}

// Unregister removes the leaf with the given id. It reports whether the leaf was present.
func (r *Leaves) Unregister(id string) bool {
	if _, ok := r.links[id]; !ok {
		return false
	}
	delete(r.links, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	telemetry.LeafLinks.Dec()
	return true
}

// Get returns the link registered under id
func (r *Leaves) Get(id string) (linkpkg.Link, bool) {
	l, ok := r.links[id]
	return l, ok
}

// Len returns the number of registered leaves
func (r *Leaves) Len() int {
	return len(r.order)
}

// IDs returns leaf ids in registration order
func (r *Leaves) IDs() []string {
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	return ids
}

// All returns every leaf in registration order
func (r *Leaves) All() []LeafEntry {
	entries := make([]LeafEntry, 0, len(r.order))
	for _, id := range r.order {
		entries = append(entries, LeafEntry{ID: id, Link: r.links[id]})
	}
	return entries
}

// Clear empties the registry and returns what it held. The caller closes the links.
func (r *Leaves) Clear() []LeafEntry {
	entries := r.All()
	r.order = nil
	r.links = make(map[string]linkpkg.Link)
	telemetry.LeafLinks.Sub(float64(len(entries)))
	return entries
}

// Broadcast echoes msg to its sender and forwards it unchanged to every other leaf.
// An empty senderID forwards to all leaves without an echo.
// Failed sends are counted, never retried.
func (r *Leaves) Broadcast(senderID string, msg []byte) (sent, dropped int) {
	for _, id := range r.order {
		out := msg
		if id == senderID {
			out = make([]byte, 0, len(EchoPrefix)+len(msg))
			out = append(out, EchoPrefix...)
			out = append(out, msg...)
		}
		if err := r.links[id].Send(out); err != nil {
			dropped++
			continue
		}
		sent++
	}
	return sent, dropped
}
