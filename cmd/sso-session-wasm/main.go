//go:build js && wasm

// Command sso-session-wasm runs the session controller inside a web page.
// The page provides its configuration as yaml in
// <script type="application/yaml" id="sso-session-config">, and gets a
// global ssoSession object plus oidcauth:* DOM events in return.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"syscall/js"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/marcogenualdo/sso-session/internal/auth"
	"github.com/marcogenualdo/sso-session/internal/browser"
	"github.com/marcogenualdo/sso-session/internal/cache"
	"github.com/marcogenualdo/sso-session/internal/config"
	"github.com/marcogenualdo/sso-session/internal/events"
	"github.com/marcogenualdo/sso-session/internal/proxy"
)

const configElementID = "sso-session-config"

func main() {
	logger := slog.New(slog.NewTextHandler(browser.Console{}, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if err := run(logger); err != nil {
		logger.Error("sso-session failed to start", "error", err)
		return
	}

	select {}
}

func loadConfig() (*config.Config, error) {
	el := js.Global().Get("document").Call("getElementById", configElementID)
	if el.IsNull() {
		return nil, fmt.Errorf("no #%s element", configElementID)
	}

	cfg, err := config.Parse([]byte(el.Get("textContent").String()))
	if err != nil {
		return nil, err
	}
	if err := validator.New().Struct(cfg.OIDC); err != nil {
		return nil, fmt.Errorf("oidc config: %w", err)
	}
	return cfg, nil
}

func run(logger *slog.Logger) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	storage, err := browser.NewLocalStorage()
	if err != nil {
		return err
	}

	ctx := context.Background()
	bus := events.NewBus()
	browser.BridgeEvents(bus, js.Global().Get("document"))

	loc := browser.NewLocation()
	var opts []auth.Option
	if loc.Embedded() {
		opts = append(opts, auth.AsSecondary())
	}

	session, err := auth.New(ctx, cfg.OIDC, cache.NewMirror(storage, cfg.Cache.KeyPrefix), loc, browser.NewIFrames(), bus, logger, opts...)
	if err != nil {
		return err
	}

	if hash := loc.Hash(); hash != "" {
		err := session.HandleSignInCallback(ctx, "")
		if err != nil && !errors.Is(err, auth.ErrMissingCallbackData) {
			logger.Error("callback failed", "error", err)
		}
	}

	client := &http.Client{Transport: proxy.NewTransport(cfg.OIDC, session, bus, logger, nil)}
	js.Global().Set("ssoSession", api(ctx, session, client, logger))
	return nil
}

// api builds the ssoSession object. Methods that navigate or perform I/O
// return Promises.
func api(ctx context.Context, session *auth.Controller, client *http.Client, logger *slog.Logger) js.Value {
	obj := js.Global().Get("Object").New()

	obj.Set("isAuthenticated", js.FuncOf(func(this js.Value, args []js.Value) any {
		return session.IsAuthenticated(ctx)
	}))
	// isAuthenticatedIn takes the lookahead in milliseconds.
	obj.Set("isAuthenticatedIn", js.FuncOf(func(this js.Value, args []js.Value) any {
		if len(args) == 0 || args[0].Type() != js.TypeNumber {
			return false
		}
		d := time.Duration(args[0].Float()) * time.Millisecond
		return session.IsAuthenticatedIn(ctx, d)
	}))
	obj.Set("silentRefresh", js.FuncOf(func(this js.Value, args []js.Value) any {
		return promise(func() (any, error) {
			session.TrySilentRefresh(ctx)
			return nil, nil
		})
	}))
	obj.Set("validateExpirity", js.FuncOf(func(this js.Value, args []js.Value) any {
		return promise(func() (any, error) {
			session.ValidateExpiry(ctx)
			return nil, nil
		})
	}))
	obj.Set("idToken", js.FuncOf(func(this js.Value, args []js.Value) any {
		return session.IDToken(ctx)
	}))
	obj.Set("claims", js.FuncOf(func(this js.Value, args []js.Value) any {
		claims, err := session.Claims(ctx)
		if err != nil {
			return js.Null()
		}
		b, err := json.Marshal(claims)
		if err != nil {
			return js.Null()
		}
		return js.Global().Get("JSON").Call("parse", string(b))
	}))
	obj.Set("signIn", js.FuncOf(func(this js.Value, args []js.Value) any {
		redirect := ""
		if len(args) > 0 && args[0].Type() == js.TypeString {
			redirect = args[0].String()
		}
		return promise(func() (any, error) {
			return nil, session.SignIn(ctx, redirect)
		})
	}))
	obj.Set("signOut", js.FuncOf(func(this js.Value, args []js.Value) any {
		return promise(func() (any, error) {
			return nil, session.SignOut(ctx)
		})
	}))
	obj.Set("handleSignOutCallback", js.FuncOf(func(this js.Value, args []js.Value) any {
		return promise(func() (any, error) {
			return nil, session.HandleSignOutCallback(ctx)
		})
	}))
	obj.Set("fetch", js.FuncOf(func(this js.Value, args []js.Value) any {
		if len(args) == 0 {
			return promise(func() (any, error) { return nil, errors.New("fetch needs a url") })
		}
		url := args[0].String()
		method := http.MethodGet
		if len(args) > 1 && args[1].Type() == js.TypeString {
			method = strings.ToUpper(args[1].String())
		}
		return promise(func() (any, error) {
			return fetch(ctx, client, method, url)
		})
	}))

	logger.Debug("ssoSession api installed")
	return obj
}

// fetch performs a request through the augmenting transport and resolves
// to {status, body}.
func fetch(ctx context.Context, client *http.Client, method, url string) (any, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"status": resp.StatusCode,
		"body":   string(body),
	}, nil
}

// promise runs fn off the event loop and settles a Promise with its result.
func promise(fn func() (any, error)) js.Value {
	executor := js.FuncOf(func(this js.Value, args []js.Value) any {
		resolve, reject := args[0], args[1]
		go func() {
			v, err := fn()
			if err != nil {
				reject.Invoke(js.Global().Get("Error").New(err.Error()))
				return
			}
			resolve.Invoke(v)
		}()
		return nil
	})
	defer executor.Release()

	return js.Global().Get("Promise").New(executor)
}
