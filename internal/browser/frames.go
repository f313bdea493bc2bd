//go:build js && wasm

package browser

import (
	"context"
	"errors"
	"sync"
	"syscall/js"

	"github.com/marcogenualdo/sso-session/internal/auth"
)

// IFrames opens secondary contexts as hidden iframes appended to the body.
// The framed document boots its own controller, which finishes the refresh
// through the shared localStorage.
type IFrames struct {
	document js.Value
}

func NewIFrames() *IFrames {
	return &IFrames{document: js.Global().Get("document")}
}

func (f *IFrames) Open(ctx context.Context, url string) (auth.Frame, error) {
	body := f.document.Get("body")
	if body.IsNull() || body.IsUndefined() {
		return nil, errors.New("document has no body yet")
	}

	el := f.document.Call("createElement", "iframe")
	el.Call("setAttribute", "src", url)
	el.Call("setAttribute", "aria-hidden", "true")
	el.Set("tabIndex", -1)
	style := el.Get("style")
	style.Set("display", "none")
	style.Set("width", "0")
	style.Set("height", "0")
	body.Call("appendChild", el)

	return &iframe{el: el}, nil
}

type iframe struct {
	el   js.Value
	once sync.Once
}

func (f *iframe) Remove() {
	f.once.Do(func() {
		f.el.Call("remove")
	})
}
