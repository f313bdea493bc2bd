package auth

import "context"

// Navigator moves the browsing context a Controller lives in.
type Navigator interface {
	// Replace abandons the current document for url. This is the only
	// visible navigation of the flow.
	Replace(url string) error

	// SetPath changes the in-app route without leaving the document.
	SetPath(path string)

	// Hash returns the current location fragment including its leading
	// '#', or "" when there is none.
	Hash() string
}

// FrameHost opens hidden secondary browsing contexts. The context loads url
// and is expected to land on the callback route, which calls
// HandleSignInCallback on a Controller sharing the same store.
type FrameHost interface {
	Open(ctx context.Context, url string) (Frame, error)
}

// Frame is an open secondary context.
type Frame interface {
	// Remove tears the context down. It must be safe to call more than once.
	Remove()
}
