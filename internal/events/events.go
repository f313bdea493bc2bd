// Package events broadcasts session lifecycle notifications to in-process
// subscribers.
package events

import (
	"net/http"
	"sync"
	"time"
)

// Kind enumerates the lifecycle notifications.
type Kind int

const (
	Unauthorized Kind = iota + 1
	TokenExpired
	TokenMissing
	TokenExpiresSoon
	LoggedIn
	LoggedOut
	SilentRefreshStarted
	SilentInitRefreshStarted
	SilentRefreshSucceeded
	SilentRefreshFailed
	SilentRefreshTimeout
)

const namePrefix = "oidcauth:"

var names = map[Kind]string{
	Unauthorized:             "unauthorized",
	TokenExpired:             "tokenExpired",
	TokenMissing:             "tokenMissing",
	TokenExpiresSoon:         "tokenExpires",
	LoggedIn:                 "loggedIn",
	LoggedOut:                "loggedOut",
	SilentRefreshStarted:     "silentRefreshStarted",
	SilentInitRefreshStarted: "silentInitRefreshStarted",
	SilentRefreshSucceeded:   "silentRefreshSucceded",
	SilentRefreshFailed:      "silentRefreshFailed",
	SilentRefreshTimeout:     "silentRefreshTimeout",
}

// Kinds lists every Kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(names))
	for k := Unauthorized; k <= SilentRefreshTimeout; k++ {
		out = append(out, k)
	}
	return out
}

// String returns the wire name, e.g. "oidcauth:loggedIn".
func (k Kind) String() string {
	if n, ok := names[k]; ok {
		return namePrefix + n
	}
	return namePrefix + "unknown"
}

// Event is one notification. Request or Response is set when an outbound
// API call triggered it.
type Event struct {
	Kind     Kind
	At       time.Time
	Request  *http.Request
	Response *http.Response
}

type Handler func(Event)

type subscription struct {
	handler Handler
	kinds   map[Kind]bool
}

// Bus delivers events synchronously to the handlers registered at publish
// time. There is no buffering and no replay.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]subscription
	now    func() time.Time
}

func NewBus() *Bus {
	return &Bus{
		subs: make(map[uint64]subscription),
		now:  time.Now,
	}
}

// Subscribe registers h for the given kinds, or for every kind when none
// are given. The returned func removes the subscription.
func (b *Bus) Subscribe(h Handler, kinds ...Kind) (unsubscribe func()) {
	sub := subscription{handler: h}
	if len(kinds) > 0 {
		sub.kinds = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = true
		}
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish stamps e with the current time when unset and calls every
// matching handler in the caller's goroutine. Handlers may publish or
// subscribe themselves.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = b.now()
	}

	b.mu.RLock()
	targets := make([]Handler, 0, len(b.subs))
	for _, s := range b.subs {
		if s.kinds == nil || s.kinds[e.Kind] {
			targets = append(targets, s.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range targets {
		h(e)
	}
}

// Recorder collects published events. Useful for tests and status pages.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Handle(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Kinds returns the kinds seen so far, in order.
func (r *Recorder) Kinds() []Kind {
	evs := r.Events()
	out := make([]Kind, len(evs))
	for i, e := range evs {
		out[i] = e.Kind
	}
	return out
}

// Count returns how many events of kind k were seen.
func (r *Recorder) Count(k Kind) int {
	n := 0
	for _, e := range r.Events() {
		if e.Kind == k {
			n++
		}
	}
	return n
}

// Last returns the most recent event, if any.
func (r *Recorder) Last() (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return Event{}, false
	}
	return r.events[len(r.events)-1], true
}
