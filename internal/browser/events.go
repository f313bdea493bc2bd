//go:build js && wasm

package browser

import (
	"syscall/js"
	"time"

	"github.com/marcogenualdo/sso-session/internal/events"
)

// BridgeEvents re-dispatches every bus event on target as a CustomEvent
// named after the kind, e.g. "oidcauth:loggedIn". The detail carries the
// time and, for transport events, the request URL and response status.
func BridgeEvents(bus *events.Bus, target js.Value) (unsubscribe func()) {
	ctor := js.Global().Get("CustomEvent")

	return bus.Subscribe(func(e events.Event) {
		detail := map[string]any{
			"at": e.At.Format(time.RFC3339Nano),
		}
		if e.Request != nil {
			detail["url"] = e.Request.URL.String()
		}
		if e.Response != nil {
			detail["status"] = e.Response.StatusCode
		}

		ev := ctor.New(e.Kind.String(), map[string]any{"detail": detail})
		target.Call("dispatchEvent", ev)
	})
}
