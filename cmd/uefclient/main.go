//go:build js && wasm

// Command uefclient is the in-browser half of the bridge. It is built with
// GOOS=js GOARCH=wasm, served as /uef.wasm and started by /uef.js on the
// integration page, where it runs the UEF handshake against the parent
// Learn window.
package main

import (
	"errors"
	"net/url"
	"os"
	"syscall/js"

	"github.com/mind-engage/uef-bridge/internal/logging"
	"github.com/mind-engage/uef-bridge/internal/uef"
)

type clientConfig struct {
	HostOrigin     string
	AllowedOrigins []string
	Role           string
	PanelTitle     string
	WidgetURL      string
	TokenURL       string
	LogLevel       string
}

func str(v js.Value, key string) string {
	f := v.Get(key)
	if f.Type() != js.TypeString {
		return ""
	}
	return f.String()
}

func readConfig() clientConfig {
	v := js.Global().Get("__UEF_CONFIG__")
	if v.Type() != js.TypeObject {
		return clientConfig{TokenURL: "/uef/access-token"}
	}
	c := clientConfig{
		HostOrigin: str(v, "hostOrigin"),
		Role:       str(v, "role"),
		PanelTitle: str(v, "panelTitle"),
		WidgetURL:  str(v, "widgetUrl"),
		TokenURL:   str(v, "tokenUrl"),
		LogLevel:   str(v, "logLevel"),
	}
	if list := v.Get("allowedOrigins"); list.Type() == js.TypeObject {
		for i := 0; i < list.Length(); i++ {
			if o := list.Index(i); o.Type() == js.TypeString {
				c.AllowedOrigins = append(c.AllowedOrigins, o.String())
			}
		}
	}
	if c.TokenURL == "" {
		c.TokenURL = "/uef/access-token"
	}
	return c
}

// referrerOrigin returns the document referrer's origin when it is one of
// the allowed origins.
func referrerOrigin(allowed []string) string {
	ref := js.Global().Get("document").Get("referrer")
	if ref.Type() != js.TypeString || ref.String() == "" {
		return ""
	}
	u, err := url.Parse(ref.String())
	if err != nil {
		return ""
	}
	o, err := uef.NormalizeOrigin(u.Scheme + "://" + u.Host)
	if err != nil {
		return ""
	}
	for _, a := range allowed {
		if n, _ := uef.NormalizeOrigin(a); n == o {
			return o
		}
	}
	return ""
}

// status shows a short message in the page's status line.
type status struct {
	el js.Value
}

func newStatus() status {
	return status{el: js.Global().Get("document").Call("getElementById", "uef-status")}
}

func (s status) show(msg, link string) {
	if s.el.Type() != js.TypeObject {
		return
	}
	s.el.Set("textContent", msg+" ")
	if link != "" {
		a := js.Global().Get("document").Call("createElement", "a")
		a.Set("href", link)
		a.Set("target", "_blank")
		a.Set("textContent", "Authorize")
		s.el.Call("appendChild", a)
	}
	s.el.Set("hidden", false)
}

func main() {
	cfg := readConfig()
	level := cfg.LogLevel
	if level == "" {
		level = "info"
	}
	log := logging.New(os.Stdout, level, "console").With().Str("app", "uefclient").Logger()

	if cfg.HostOrigin == "" {
		if o := referrerOrigin(cfg.AllowedOrigins); o != "" {
			log.Info().Str("origin", o).Msg("host origin taken from referrer")
			cfg.HostOrigin = o
		}
	}
	if cfg.WidgetURL == "" {
		log.Error().Msg("no widget URL configured; integration disabled")
		return
	}

	role, err := uef.NewRole(cfg.Role, uef.RoleOptions{PanelTitle: cfg.PanelTitle})
	if err != nil {
		log.Error().Err(err).Msg("role")
		return
	}

	st := newStatus()
	n, err := uef.New(uef.Config{
		HostOrigin:     cfg.HostOrigin,
		AllowedOrigins: cfg.AllowedOrigins,
		Role:           role,
		PanelContent:   uef.WidgetFrame(cfg.WidgetURL),
		Log:            log,
		OnStatus: func(_ uef.Phase, err error) {
			var need errAuthorize
			switch {
			case errors.As(err, &need):
				st.show("This integration needs access to your Learn account.", need.url)
			case errors.Is(err, uef.ErrChannelUnavailable):
				st.show("Learn did not answer; the integration is inactive.", "")
			case errors.Is(err, uef.ErrAuthorizationDenied):
				st.show("Learn rejected the integration token.", "")
			}
		},
	}, parentWindow{w: js.Global().Get("parent")}, fetchToken(cfg.TokenURL))
	if err != nil {
		log.Error().Err(err).Msg("negotiator")
		return
	}

	onPort := func(data []byte) { n.HandlePortMessage(data) }
	js.Global().Call("addEventListener", "message", js.FuncOf(func(_ js.Value, args []js.Value) any {
		if len(args) > 0 {
			n.HandleWindowMessage(messageEvent{ev: args[0], onMessage: onPort})
		}
		return nil
	}))
	js.Global().Call("addEventListener", "pagehide", js.FuncOf(func(js.Value, []js.Value) any {
		n.Stop()
		return nil
	}))

	n.Start()
	log.Debug().Str("target", cfg.HostOrigin).Msg("started")
	select {}
}
