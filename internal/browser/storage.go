//go:build js && wasm

// Package browser hosts a session controller in a web page compiled to
// WebAssembly: localStorage is the shared store, window.location the
// navigator and hidden iframes the secondary contexts.
package browser

import (
	"context"
	"errors"
	"syscall/js"
	"time"

	"github.com/marcogenualdo/sso-session/internal/cache"
)

var ErrTTLUnsupported = errors.New("localStorage entries cannot expire")

// LocalStorage is a cache.Cache over window.localStorage. Every document of
// the origin, iframes included, sees the same entries.
type LocalStorage struct {
	storage js.Value
}

func NewLocalStorage() (*LocalStorage, error) {
	storage := js.Global().Get("localStorage")
	if storage.IsUndefined() || storage.IsNull() {
		return nil, errors.New("localStorage is not available")
	}
	return &LocalStorage{storage: storage}, nil
}

func (ls *LocalStorage) Get(ctx context.Context, key string) ([]byte, error) {
	v := ls.storage.Call("getItem", key)
	if v.IsNull() {
		return nil, cache.ErrNotFound
	}
	return []byte(v.String()), nil
}

func (ls *LocalStorage) Set(ctx context.Context, key string, value []byte, ttl time.Duration) (err error) {
	if ttl > 0 {
		return ErrTTLUnsupported
	}
	// setItem throws when the quota is exceeded
	defer func() {
		if r := recover(); r != nil {
			err = jsError(r)
		}
	}()
	ls.storage.Call("setItem", key, string(value))
	return nil
}

func (ls *LocalStorage) Delete(ctx context.Context, key string) error {
	ls.storage.Call("removeItem", key)
	return nil
}

func (ls *LocalStorage) Exists(ctx context.Context, key string) (bool, error) {
	return !ls.storage.Call("getItem", key).IsNull(), nil
}

func (ls *LocalStorage) Close() error {
	return nil
}

func jsError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return errors.New("javascript exception")
}
