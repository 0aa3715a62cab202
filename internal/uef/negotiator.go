// Package uef is the integration side of the Ultra Extension Framework
// handshake: it obtains a private channel from the embedding Learn page,
// authorizes it with a bearer token and drives panels over it.
//
// The package has no browser dependency. cmd/uefclient binds it to
// window.postMessage and MessagePort when built for js/wasm.
package uef

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Phase is the negotiator's position in the handshake.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingChannel
	PhaseAwaitingAuthorization
	PhaseReady
	// PhaseUnavailable is entered when the host never answered. A late hello
	// response is still accepted.
	PhaseUnavailable
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingChannel:
		return "awaiting-channel"
	case PhaseAwaitingAuthorization:
		return "awaiting-authorization"
	case PhaseReady:
		return "ready"
	case PhaseUnavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Host is the embedding (parent) window.
type Host interface {
	PostMessage(data []byte, targetOrigin string) error
}

// TokenSource yields the bearer token sent in authorization:authorize.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// StaticToken is a TokenSource for a token injected into the page.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

type Config struct {
	// HostOrigin is the expected Learn origin. When empty, hello goes to the
	// wildcard target and only AllowedOrigins are accepted.
	HostOrigin     string
	AllowedOrigins []string

	RetryAfter   time.Duration // hello is re-sent once after this; default 3s
	TokenTimeout time.Duration // default 15s

	Role            Role
	PanelType       string // default "small"
	PanelContent    Node   // rendered into every panel the host opens for us
	CloseCallbackID string // default "uef-bridge-panel-close"

	Scheduler Scheduler
	Log       zerolog.Logger

	// OnStatus observes phase changes and non-fatal errors. It runs with the
	// lock held and must not call back into the Negotiator.
	OnStatus func(Phase, error)
}

// Negotiator runs the handshake: Idle → AwaitingChannel →
// AwaitingAuthorization → Ready. All entry points are safe for concurrent use.
type Negotiator struct {
	mu sync.Mutex

	cfg     Config
	host    Host
	tokens  TokenSource
	sched   Scheduler
	spawn   func(func())
	log     zerolog.Logger
	origin  string // exact origin inbound window messages must carry
	allowed map[string]bool

	phase   Phase
	retried bool
	timer   Timer
	session *Session
}

func New(cfg Config, host Host, tokens TokenSource) (*Negotiator, error) {
	origin, err := NormalizeOrigin(cfg.HostOrigin)
	if err != nil {
		return nil, err
	}
	allowed := map[string]bool{}
	for _, o := range cfg.AllowedOrigins {
		n, err := NormalizeOrigin(o)
		if err != nil {
			return nil, err
		}
		if n != "" {
			allowed[n] = true
		}
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = 3 * time.Second
	}
	if cfg.TokenTimeout <= 0 {
		cfg.TokenTimeout = 15 * time.Second
	}
	if cfg.Role == nil {
		cfg.Role = PanelRole{Title: "NF Chatbot"}
	}
	if cfg.PanelType == "" {
		cfg.PanelType = "small"
	}
	if cfg.CloseCallbackID == "" {
		cfg.CloseCallbackID = "uef-bridge-panel-close"
	}
	sched := cfg.Scheduler
	if sched == nil {
		sched = realScheduler{}
	}
	return &Negotiator{
		cfg:     cfg,
		host:    host,
		tokens:  tokens,
		sched:   sched,
		spawn:   func(f func()) { go f() },
		log:     cfg.Log.With().Str("component", "uef").Str("role", cfg.Role.Name()).Logger(),
		origin:  origin,
		allowed: allowed,
	}, nil
}

// Start sends the hello message and arms the single retry.
func (n *Negotiator) Start() {
	n.mu.Lock()
	defer n.mu.Unlock()
	defer n.recoverPanic("start")
	if n.phase != PhaseIdle {
		return
	}
	n.sendHelloLocked()
	n.setPhaseLocked(PhaseAwaitingChannel, nil)
	n.timer = n.sched.AfterFunc(n.cfg.RetryAfter, n.onRetry)
}

// Stop cancels the pending retry, e.g. when the document unloads.
func (n *Negotiator) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stopTimerLocked()
}

func (n *Negotiator) Phase() Phase {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.phase
}

// PanelID is the open panel's portal id, or "".
func (n *Negotiator) PanelID() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.session == nil {
		return ""
	}
	return n.session.PanelID()
}

// OpenPanel requests a panel with the configured close callback.
func (n *Negotiator) OpenPanel(title string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.session == nil {
		return "", ErrNotReady
	}
	return n.session.OpenPanel(title, n.cfg.CloseCallbackID)
}

func (n *Negotiator) targetLocked() string {
	if n.origin != "" {
		return n.origin
	}
	return Wildcard
}

func (n *Negotiator) sendHelloLocked() {
	b, err := Encode(Hello{})
	if err != nil {
		n.log.Error().Err(err).Msg("encode hello")
		return
	}
	target := n.targetLocked()
	if err := n.host.PostMessage(b, target); err != nil {
		n.log.Error().Err(err).Str("target", target).Msg("hello postMessage failed")
		return
	}
	n.log.Info().Str("target", target).Msg("hello sent")
}

func (n *Negotiator) onRetry() {
	n.mu.Lock()
	defer n.mu.Unlock()
	defer n.recoverPanic("retry")
	if n.phase != PhaseAwaitingChannel {
		return
	}
	if !n.retried {
		n.retried = true
		n.log.Warn().Msg("no hello response, retrying once")
		n.sendHelloLocked()
		n.timer = n.sched.AfterFunc(n.cfg.RetryAfter, n.onRetry)
		return
	}
	n.timer = nil
	n.log.Error().Str("target", n.targetLocked()).Msg("host never answered hello")
	n.setPhaseLocked(PhaseUnavailable, ErrChannelUnavailable)
}

func (n *Negotiator) originAllowedLocked(origin string) bool {
	if n.origin != "" {
		return origin == n.origin
	}
	return n.allowed[origin]
}

// MessageEvent is a message event delivered to the window. Data and Ports
// are read only after Origin has been accepted.
type MessageEvent interface {
	Origin() string
	Data() ([]byte, error)
	Ports() []Port
}

// RawEvent is a MessageEvent with its fields already extracted.
type RawEvent struct {
	From     string
	Payload  []byte
	Transfer []Port
}

func (e RawEvent) Origin() string        { return e.From }
func (e RawEvent) Data() ([]byte, error) { return e.Payload, nil }
func (e RawEvent) Ports() []Port         { return e.Transfer }

// HandleWindowMessage processes a message event on the window.
func (n *Negotiator) HandleWindowMessage(ev MessageEvent) {
	if n.windowMessage(ev) {
		n.spawn(n.authorize)
	}
}

func (n *Negotiator) windowMessage(ev MessageEvent) (fetchToken bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	defer n.recoverPanic("window")

	origin := ev.Origin()
	if !n.originAllowedLocked(origin) {
		return false
	}
	data, err := ev.Data()
	if err != nil {
		n.log.Warn().Err(err).Str("origin", origin).Msg("unreadable window message")
		return false
	}
	msg, err := Decode(data)
	if err != nil {
		n.log.Warn().Err(err).Str("origin", origin).Msg("undecodable window message")
		return false
	}
	if _, ok := msg.(HelloResponse); !ok {
		return false
	}
	if n.session != nil {
		n.log.Warn().Str("origin", origin).Msg("second hello response ignored; channel already bound")
		return false
	}
	ports := ev.Ports()
	if len(ports) == 0 || ports[0] == nil {
		n.log.Warn().Str("origin", origin).Msg("hello response without a MessagePort")
		return false
	}

	n.stopTimerLocked()
	if n.origin == "" {
		// Bind to the allowlisted origin that answered.
		n.origin = origin
	}
	n.session = &Session{
		port:            ports[0],
		panelType:       n.cfg.PanelType,
		closeCallbackID: n.cfg.CloseCallbackID,
		content:         n.cfg.PanelContent,
		log:             n.log,
		onError:         n.reportLocked,
	}
	n.log.Info().Str("origin", origin).Msg("channel received")
	n.setPhaseLocked(PhaseAwaitingAuthorization, nil)
	return true
}

func (n *Negotiator) authorize() {
	defer n.recoverPanic("authorize")
	ctx, cancel := context.WithTimeout(context.Background(), n.cfg.TokenTimeout)
	defer cancel()
	tok, err := n.tokens.Token(ctx)

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.phase != PhaseAwaitingAuthorization {
		return
	}
	if err != nil {
		n.log.Error().Err(err).Msg("no bearer token; integration stays unauthorized")
		n.reportLocked(fmt.Errorf("uef: token: %w", err))
		return
	}
	if tok == "" {
		n.log.Error().Msg("empty bearer token; integration stays unauthorized")
		n.reportLocked(fmt.Errorf("uef: token: empty"))
		return
	}
	if err := n.session.send(Authorize{Token: tok}); err == nil {
		n.log.Info().Msg("authorization requested")
	}
}

// HandlePortMessage processes a message received on the bound channel.
func (n *Negotiator) HandlePortMessage(data []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	defer n.recoverPanic("port")

	if n.session == nil {
		return
	}
	msg, err := Decode(data)
	if err != nil {
		n.log.Warn().Err(err).Msg("undecodable port message")
		return
	}
	if ack, ok := msg.(AuthorizeAck); ok {
		n.onAuthorizedLocked(ack)
		return
	}
	if n.phase != PhaseReady {
		n.log.Debug().Msg("port message before authorization ignored")
		return
	}

	s, role := n.session, n.cfg.Role
	switch m := msg.(type) {
	case PanelResponse:
		s.handlePanelResponse(m)
	case CallbackEvent:
		if m.CallbackID != "" && (m.CallbackID == s.closeToken || m.CallbackID == s.closeCallbackID) {
			s.OnPanelClosed(m.CallbackID)
			return
		}
		role.OnCallback(s, m)
	case Event:
		role.OnEvent(s, m)
	case HelpRequest:
		role.OnHelpRequest(s, m)
	case HelloResponse:
		n.log.Warn().Msg("hello on the bound channel ignored")
	case Unknown:
		n.log.Debug().Str("type", string(m.Type)).Msg("unhandled message")
	}
}

func (n *Negotiator) onAuthorizedLocked(ack AuthorizeAck) {
	if n.phase != PhaseAwaitingAuthorization {
		n.log.Debug().Str("phase", n.phase.String()).Msg("unexpected authorization ack")
		return
	}
	if !ack.Accepted() {
		n.log.Error().Str("status", ack.Status).Msg("host rejected authorization")
		n.reportLocked(ErrAuthorizationDenied)
		return
	}
	n.session.authorized = true
	n.setPhaseLocked(PhaseReady, nil)
	n.log.Info().Msg("authorized")
	n.cfg.Role.OnReady(n.session)
}

func (n *Negotiator) setPhaseLocked(p Phase, err error) {
	n.phase = p
	if n.cfg.OnStatus != nil {
		n.cfg.OnStatus(p, err)
	}
}

func (n *Negotiator) reportLocked(err error) {
	if n.cfg.OnStatus != nil {
		n.cfg.OnStatus(n.phase, err)
	}
}

func (n *Negotiator) stopTimerLocked() {
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
}

// recoverPanic keeps a faulty handler from escaping into the host page.
func (n *Negotiator) recoverPanic(where string) {
	if r := recover(); r != nil {
		n.log.Error().Str("handler", where).Interface("panic", r).Msg("handler panicked")
	}
}
