package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Role selects what the client program does once the host has authorized it.
type Role string

const (
	RolePanel        Role = "panel"
	RoleHelp         Role = "help"
	RoleCourseButton Role = "course-button"
)

type Config struct {
	HTTPAddr  string `validate:"required"`
	PublicURL string `validate:"omitempty,url"`

	// Origins allowed to frame the tool (CSP frame-ancestors) and to call the
	// token endpoint cross-origin.
	FrameAncestors []string
	CORSOrigins    []string

	StaticDir string

	// LTI 1.3 / OIDC (Tool-side)
	LTIIssuer       string        `validate:"required,url"`
	LTIClientID     string        `validate:"required"`
	LTIAuthURL      string        `validate:"required,url"`
	LTIJWKSURL      string        `validate:"required,url"`
	LTIRedirectURI  string        `validate:"required,url"`
	LTIDeploymentID string        // optional; checked when set
	LTIStateTTL     time.Duration `validate:"gt=0"`
	LTIClockSkew    time.Duration `validate:"gte=0"`

	// Login attempt storage
	StateStore  string `validate:"oneof=memory sqlite postgres redis"`
	DBDSN       string
	RedisAddr   string `validate:"required_if=StateStore redis"`
	RedisPrefix string

	// Launch session cookie. Empty secret means an ephemeral key per process.
	SessionSecret string
	SessionTTL    time.Duration `validate:"gt=0"`

	// UEF client
	UEFHostOrigin string `validate:"omitempty,url"`
	// Exact origins the client accepts a handshake from when UEFHostOrigin
	// is unset and the referrer is unavailable.
	UEFAllowedOrigins []string
	UEFUserToken      string
	UEFRole           Role   `validate:"oneof=panel help course-button"`
	UEFPanelTitle     string `validate:"required"`
	WidgetWrapperPath string `validate:"required,startswith=/"`
	NFWidgetID        string
	NFWidgetScriptURL string `validate:"omitempty,url"`

	// Learn 3LO (REST application credentials)
	LearnHost      string `validate:"omitempty,url"`
	LearnAppKey    string `validate:"required_with=LearnHost"`
	LearnAppSecret string `validate:"required_with=LearnHost"`

	ToolKeyFile string

	LogLevel  string
	LogFormat string `validate:"oneof=json console"`
}

// WidgetScriptURL resolves the chat widget SDK location from either an explicit
// URL or the widget id.
func (c Config) WidgetScriptURL() string {
	if c.NFWidgetScriptURL != "" {
		return c.NFWidgetScriptURL
	}
	if c.NFWidgetID == "" {
		return ""
	}
	return "https://portalapi.noodlefactory.ai/api/v1/widget/widget-sdk/" + c.NFWidgetID + "/widget.js"
}

// Validate checks the struct tags above.
func (c Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("config: invalid fields: %s", strings.Join(msgs, ", "))
		}
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Load reads an optional .env file and an optional YAML file (CONFIG_FILE),
// then the process environment, and validates the result. Environment
// variables win over the YAML file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: .env: %w", err)
	}
	src := source{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &src.file); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg := src.build()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv builds a Config from the process environment only.
func FromEnv() Config {
	return source{}.build()
}

// source looks keys up in the environment first, then in the YAML file.
type source struct {
	file map[string]string
}

func (s source) get(k string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return s.file[k]
}

func (s source) build() Config {
	pub := strings.TrimSuffix(s.get("PUBLIC_URL"), "/")
	defRedirect := ""
	if pub != "" {
		defRedirect = pub + "/lti/launch"
	}
	return Config{
		HTTPAddr:       s.envOr("HTTP_ADDR", ":10000"),
		PublicURL:      pub,
		FrameAncestors: s.csvOr("FRAME_ANCESTORS", "https://*.blackboard.com,https://*.blackboard.com:*,https://*.blackboardcloud.com,https://*.blackboardcloud.com:*"),
		CORSOrigins:    s.csvOr("CORS_ORIGINS", ""),
		StaticDir:      s.envOr("STATIC_DIR", "./public"),

		LTIIssuer:       s.envOr("LTI_ISSUER", "https://blackboard.com"),
		LTIClientID:     s.get("LTI_CLIENT_ID"),
		LTIAuthURL:      s.envOr("LTI_AUTH_URL", "https://developer.blackboard.com/api/v1/gateway/oidcauth"),
		LTIJWKSURL:      s.get("LTI_JWKS_URL"),
		LTIRedirectURI:  s.envOr("LTI_REDIRECT_URI", defRedirect),
		LTIDeploymentID: s.get("LTI_DEPLOYMENT_ID"),
		LTIStateTTL:     s.envDuration("LTI_STATE_TTL", 10*time.Minute),
		LTIClockSkew:    s.envDuration("LTI_CLOCK_SKEW", 30*time.Second),

		StateStore:  s.envOr("STATE_STORE", "memory"),
		DBDSN:       s.get("DB_DSN"),
		RedisAddr:   s.get("REDIS_ADDR"),
		RedisPrefix: s.envOr("REDIS_PREFIX", "uef-bridge"),

		SessionSecret: s.get("SESSION_SECRET"),
		SessionTTL:    s.envDuration("SESSION_TTL", 8*time.Hour),

		UEFHostOrigin:     strings.TrimSuffix(s.get("UEF_HOST_ORIGIN"), "/"),
		UEFAllowedOrigins: s.csvOr("UEF_ALLOWED_ORIGINS", ""),
		UEFUserToken:      strings.TrimSpace(s.get("UEF_USER_TOKEN")),
		UEFRole:           Role(s.envOr("UEF_ROLE", string(RolePanel))),
		UEFPanelTitle:     s.envOr("UEF_PANEL_TITLE", "NF Chatbot"),
		WidgetWrapperPath: s.envOr("WIDGET_WRAPPER_PATH", "/widget-wrapper.html"),
		NFWidgetID:        strings.TrimSpace(s.get("NF_WIDGET_ID")),
		NFWidgetScriptURL: strings.TrimSpace(s.get("NF_WIDGET_SCRIPT_URL")),

		LearnHost:      strings.TrimSuffix(s.get("LEARN_HOST"), "/"),
		LearnAppKey:    s.get("LEARN_APP_KEY"),
		LearnAppSecret: s.get("LEARN_APP_SECRET"),

		ToolKeyFile: s.get("TOOL_KEY_FILE"),

		LogLevel:  s.envOr("LOG_LEVEL", "info"),
		LogFormat: s.envOr("LOG_FORMAT", "json"),
	}
}

func (s source) envOr(k, def string) string {
	v := s.get(k)
	if v == "" {
		return def
	}
	return v
}

func (s source) envDuration(k string, def time.Duration) time.Duration {
	v := s.get(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func (s source) csvOr(k, def string) []string {
	v := s.envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
