//go:build js && wasm

package browser

import "syscall/js"

// Location drives window.location. In-app routes are changed with the
// history API so the document is not reloaded.
type Location struct {
	window js.Value
}

func NewLocation() *Location {
	return &Location{window: js.Global()}
}

func (l *Location) Replace(url string) error {
	l.window.Get("location").Call("replace", url)
	return nil
}

// SetPath also drops the fragment, which carried the callback payload.
func (l *Location) SetPath(path string) {
	l.window.Get("history").Call("replaceState", js.Null(), "", path)
}

func (l *Location) Hash() string {
	return l.window.Get("location").Get("hash").String()
}

// Embedded reports whether this document runs inside a frame.
func (l *Location) Embedded() bool {
	return !l.window.Get("parent").Equal(l.window)
}
