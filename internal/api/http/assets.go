// internal/api/http/assets.go
package http

import (
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Assets serves the fixed files the integration needs: the loader script,
// the Go wasm runtime shim, the client binary and the widget wrapper.
type Assets struct {
	Dir             string // STATIC_DIR
	PublicURL       string
	WidgetScriptURL string // "" when no widget is configured
	Title           string
}

func MountAssets(r chi.Router, a Assets) {
	r.Get("/uef.js", a.loaderHandler())
	r.Get("/wasm_exec.js", a.file("wasm_exec.js"))
	r.Get("/uef.wasm", a.file("uef.wasm"))
}

// loader starts the wasm client once the runtime shim has loaded.
const loader = `(function () {
  var base = %s;
  var s = document.createElement("script");
  s.src = base + "/wasm_exec.js";
  s.onload = function () {
    var go = new Go();
    WebAssembly.instantiateStreaming(fetch(base + "/uef.wasm"), go.importObject)
      .then(function (res) { go.run(res.instance); })
      .catch(function (err) { console.error("[uef-bridge] client failed to load", err); });
  };
  document.head.appendChild(s);
})();
`

const loaderMisconfigured = `console.error("[uef-bridge] NF_WIDGET_ID or NF_WIDGET_SCRIPT_URL is not set; integration disabled");
`

func (a Assets) loaderHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
		if a.WidgetScriptURL == "" {
			zerolog.Ctx(r.Context()).Error().Msg("uef.js requested but no widget is configured")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(loaderMisconfigured))
			return
		}
		base, _ := json.Marshal(a.PublicURL)
		_, _ = fmt.Fprintf(w, loader, base)
	}
}

func (a Assets) file(name string) http.HandlerFunc {
	path := filepath.Join(a.Dir, name)
	return func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, path)
	}
}

var wrapperTmpl = template.Must(template.New("wrapper").Parse(`<!doctype html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>html, body { margin: 0; height: 100%; background: transparent; }</style>
</head>
<body>
<script src="{{.Script}}" async></script>
</body>
</html>
`))

// WidgetWrapperHandler serves the page the panel iframe points at. It only
// loads the chat widget SDK.
func (a Assets) WidgetWrapperHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.WidgetScriptURL == "" {
			http.Error(w, "widget not configured", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		err := wrapperTmpl.Execute(w, struct{ Title, Script string }{a.Title, a.WidgetScriptURL})
		if err != nil {
			zerolog.Ctx(r.Context()).Error().Err(err).Msg("render widget wrapper")
		}
	}
}
