package session

import (
	"context"
	"sync"
)

// PendingNavigator records the last requested location until a front end
// (the HTTP shell, the CLI) takes it and performs the move.
type PendingNavigator struct {
	mu   sync.Mutex
	path string
}

func NewPendingNavigator() *PendingNavigator {
	return &PendingNavigator{}
}

func (n *PendingNavigator) Navigate(_ context.Context, path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.path = path
}

// Pending returns the requested location without consuming it.
func (n *PendingNavigator) Pending() (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.path, n.path != ""
}

// Take returns the requested location and clears it.
func (n *PendingNavigator) Take() (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	path := n.path
	n.path = ""
	return path, path != ""
}
