// Package agent hosts a session controller outside a browser: a navigator
// that records where the controller wants to go and a frame host that
// performs silent refresh round trips over HTTP.
package agent

import (
	"net/url"
	"sync"
)

// Navigator records the navigations of a headless browsing context. The
// embedding host decides what a top-level navigation means, for example an
// HTTP redirect sent to a user agent.
type Navigator struct {
	mu       sync.Mutex
	location string
	path     string
	hash     string
	changed  chan struct{}
}

func NewNavigator() *Navigator {
	return &Navigator{
		path:    "/",
		changed: make(chan struct{}),
	}
}

// Replace records url as the current top-level location and wakes every
// waiter returned by Changed.
func (n *Navigator) Replace(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	n.location = rawURL
	n.hash = ""
	if u.Fragment != "" {
		n.hash = "#" + u.EscapedFragment()
	}
	close(n.changed)
	n.changed = make(chan struct{})
	return nil
}

func (n *Navigator) SetPath(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.path = path
}

// SetHash sets the location fragment, as when a document is loaded with one.
func (n *Navigator) SetHash(hash string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.hash = hash
}

func (n *Navigator) Hash() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.hash
}

// Location returns the last top-level navigation target, or "".
func (n *Navigator) Location() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.location
}

// Path returns the current in-app route.
func (n *Navigator) Path() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.path
}

// Changed returns a channel closed by the next Replace.
func (n *Navigator) Changed() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.changed
}
