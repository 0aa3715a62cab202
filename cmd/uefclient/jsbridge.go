//go:build js && wasm

package main

import (
	"context"
	"errors"
	"fmt"
	"syscall/js"

	"github.com/mind-engage/uef-bridge/internal/uef"
)

var jsJSON = js.Global().Get("JSON")

// catch turns a JS exception raised by f into an error.
func catch(f func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if jerr, ok := r.(js.Error); ok {
				err = errors.New(jerr.Error())
				return
			}
			err = fmt.Errorf("%v", r)
		}
	}()
	f()
	return nil
}

func parse(data []byte) (v js.Value, err error) {
	err = catch(func() { v = jsJSON.Call("parse", string(data)) })
	return v, err
}

func stringify(v js.Value) (s string, err error) {
	err = catch(func() {
		out := jsJSON.Call("stringify", v)
		if out.Type() != js.TypeString {
			panic("message data is not serializable")
		}
		s = out.String()
	})
	return s, err
}

// parentWindow is the UEF host.
type parentWindow struct {
	w js.Value
}

func (p parentWindow) PostMessage(data []byte, targetOrigin string) error {
	msg, err := parse(data)
	if err != nil {
		return err
	}
	return catch(func() { p.w.Call("postMessage", msg, targetOrigin) })
}

// port is the MessagePort handed over with the hello response.
type port struct {
	v js.Value
}

func (p port) PostMessage(data []byte) error {
	msg, err := parse(data)
	if err != nil {
		return err
	}
	return catch(func() { p.v.Call("postMessage", msg) })
}

// messageEvent adapts a window MessageEvent. Data and Ports touch the event
// only when called.
type messageEvent struct {
	ev        js.Value
	onMessage func([]byte)
}

func (e messageEvent) Origin() string {
	o := e.ev.Get("origin")
	if o.Type() != js.TypeString {
		return ""
	}
	return o.String()
}

func (e messageEvent) Data() ([]byte, error) {
	s, err := stringify(e.ev.Get("data"))
	return []byte(s), err
}

func (e messageEvent) Ports() []uef.Port {
	ports := e.ev.Get("ports")
	if ports.Type() != js.TypeObject || ports.Length() == 0 {
		return nil
	}
	p := ports.Index(0)
	p.Set("onmessage", js.FuncOf(func(_ js.Value, args []js.Value) any {
		if len(args) == 0 {
			return nil
		}
		s, err := stringify(args[0].Get("data"))
		if err != nil {
			return nil
		}
		e.onMessage([]byte(s))
		return nil
	}))
	return []uef.Port{port{v: p}}
}

// await blocks until the promise settles or ctx is done. It must not run on
// the JS event loop goroutine.
func await(ctx context.Context, promise js.Value) (js.Value, error) {
	type result struct {
		v   js.Value
		err error
	}
	ch := make(chan result, 1)
	var onOK, onErr js.Func
	onOK = js.FuncOf(func(_ js.Value, args []js.Value) any {
		ch <- result{v: args[0]}
		return nil
	})
	onErr = js.FuncOf(func(_ js.Value, args []js.Value) any {
		msg := "rejected"
		if len(args) > 0 {
			msg = args[0].Call("toString").String()
		}
		ch <- result{err: errors.New(msg)}
		return nil
	})
	promise.Call("then", onOK, onErr)
	select {
	case r := <-ch:
		onOK.Release()
		onErr.Release()
		return r.v, r.err
	case <-ctx.Done():
		// The callbacks are still referenced by the promise.
		return js.Undefined(), ctx.Err()
	}
}

// errAuthorize carries the 3LO consent URL back to the status line.
type errAuthorize struct{ url string }

func (e errAuthorize) Error() string { return "learn authorization required" }

// fetchToken gets the bearer token for this launch session.
func fetchToken(url string) uef.TokenFunc {
	return func(ctx context.Context) (string, error) {
		opts := js.Global().Get("Object").New()
		opts.Set("credentials", "include")
		opts.Set("cache", "no-store")
		resp, err := await(ctx, js.Global().Call("fetch", url, opts))
		if err != nil {
			return "", fmt.Errorf("fetch %s: %w", url, err)
		}
		body, err := await(ctx, resp.Call("json"))
		if err != nil {
			return "", fmt.Errorf("decode %s: %w", url, err)
		}
		if !resp.Get("ok").Bool() || !body.Get("ok").Truthy() {
			if u := body.Get("authorizeUrl"); u.Type() == js.TypeString {
				return "", errAuthorize{url: u.String()}
			}
			msg := "unknown error"
			if e := body.Get("error"); e.Type() == js.TypeString {
				msg = e.String()
			}
			return "", fmt.Errorf("token endpoint: %d %s", resp.Get("status").Int(), msg)
		}
		tok := body.Get("token")
		if tok.Type() != js.TypeString {
			return "", errors.New("token endpoint: no token")
		}
		return tok.String(), nil
	}
}
