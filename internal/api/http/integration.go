// internal/api/http/integration.go
package http

import (
	"html/template"
	"net/http"
	"net/url"
	"sort"

	"github.com/rs/zerolog"

	auth "github.com/mind-engage/uef-bridge/internal/auth/middleware"
	"github.com/mind-engage/uef-bridge/internal/lti"
	"github.com/mind-engage/uef-bridge/internal/uef"
)

// PageConfig is what the integration page needs to boot the client.
type PageConfig struct {
	PublicURL         string
	HostOrigin        string   // configured Learn origin, may be empty
	AllowedOrigins    []string // exact origins trusted when HostOrigin is empty
	Role              string
	PanelTitle        string
	WidgetWrapperPath string
	TokenPath         string // default /uef/access-token
}

// ClientConfig is injected into the page as window.__UEF_CONFIG__.
type ClientConfig struct {
	HostOrigin     string   `json:"hostOrigin,omitempty"`
	AllowedOrigins []string `json:"allowedOrigins,omitempty"`
	Role           string   `json:"role"`
	PanelTitle     string   `json:"panelTitle"`
	WidgetURL      string   `json:"widgetUrl"`
	TokenURL       string   `json:"tokenUrl"`
}

var integrationTmpl = template.Must(template.New("integration").Parse(`<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
</head>
<body>
<p id="uef-status" hidden></p>
<script>window.__UEF_CONFIG__ = {{.Config}};</script>
<script src="{{.Loader}}"></script>
</body>
</html>
`))

type pageData struct {
	Title  string
	Config ClientConfig
	Loader string
}

// Pages renders the integration entry page, both for direct loads by the
// UEF host and as the body of a successful launch.
type Pages struct {
	cfg     PageConfig
	allowed map[string]bool
	host    string
}

func NewPages(cfg PageConfig) (*Pages, error) {
	host, err := uef.NormalizeOrigin(cfg.HostOrigin)
	if err != nil {
		return nil, err
	}
	allowed := map[string]bool{}
	for _, o := range cfg.AllowedOrigins {
		n, err := uef.NormalizeOrigin(o)
		if err != nil {
			return nil, err
		}
		if n != "" {
			allowed[n] = true
		}
	}
	if cfg.TokenPath == "" {
		cfg.TokenPath = "/uef/access-token"
	}
	return &Pages{cfg: cfg, allowed: allowed, host: host}, nil
}

// hostOrigin picks the origin the client handshakes with: configuration
// first, then an allowlisted lmsHost parameter, then the verified launch's
// return or platform URL. "" leaves the choice to the client.
func (p *Pages) hostOrigin(r *http.Request, id *lti.IdentityAssertion) string {
	if p.host != "" {
		return p.host
	}
	if q := r.URL.Query().Get("lmsHost"); q != "" {
		if o, err := uef.NormalizeOrigin(q); err == nil && p.allowed[o] {
			return o
		}
		zerolog.Ctx(r.Context()).Warn().Str("lms_host", q).Msg("lmsHost not in allowed origins; ignored")
	}
	if id != nil {
		for _, raw := range []string{id.ReturnURL, id.PlatformURL} {
			if o, err := uef.NormalizeOrigin(raw); err == nil && o != "" {
				return o
			}
		}
	}
	return ""
}

func (p *Pages) clientConfig(host string, query map[string]string) ClientConfig {
	allowed := make([]string, 0, len(p.allowed))
	for o := range p.allowed {
		allowed = append(allowed, o)
	}
	sort.Strings(allowed)
	return ClientConfig{
		HostOrigin:     host,
		AllowedOrigins: allowed,
		Role:           p.cfg.Role,
		PanelTitle:     p.cfg.PanelTitle,
		WidgetURL:      uef.WidgetURL(p.cfg.PublicURL, p.cfg.WidgetWrapperPath, query),
		TokenURL:       p.cfg.PublicURL + p.cfg.TokenPath,
	}
}

func (p *Pages) render(w http.ResponseWriter, r *http.Request, cc ClientConfig) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := integrationTmpl.Execute(w, pageData{
		Title:  p.cfg.PanelTitle,
		Config: cc,
		Loader: p.cfg.PublicURL + "/uef.js",
	})
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("render integration page")
	}
}

// IntegrationHandler serves GET /integration.
func (p *Pages) IntegrationHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		cc := p.clientConfig(p.hostOrigin(r, nil), map[string]string{
			"courseId": q.Get("courseId"),
			"userId":   q.Get("userId"),
		})
		p.render(w, r, cc)
	}
}

// LaunchPage completes a verified launch: it sets the session cookie and
// answers with the integration page.
func (p *Pages) LaunchPage(sessions *auth.AuthService) lti.LaunchFunc {
	return func(w http.ResponseWriter, r *http.Request, id lti.IdentityAssertion, targetLinkURI string) {
		log := zerolog.Ctx(r.Context())
		tok, err := sessions.IssueJWT(id.Subject, id.Issuer, id.Context.ID, lti.SplitRoles(id.Roles), id.Name)
		if err != nil {
			log.Error().Err(err).Msg("issue session")
			http.Error(w, "session unavailable", http.StatusInternalServerError)
			return
		}
		sessions.SetCookie(w, tok)
		log.Info().Str("sub", id.Subject).Str("target_link_uri", safeURL(targetLinkURI)).Msg("launch session issued")

		cc := p.clientConfig(p.hostOrigin(r, &id), map[string]string{
			"courseId": id.Context.ID,
			"userId":   id.Subject,
		})
		p.render(w, r, cc)
	}
}

// safeURL drops the query so hints never end up in logs.
func safeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
