package uef

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/segmentio/ksuid"
)

var (
	ErrNotReady            = errors.New("uef: channel not authorized")
	ErrPanelPending        = errors.New("uef: a panel request is already pending")
	ErrPanelCreationFailed = errors.New("uef: panel creation failed")
	ErrChannelUnavailable  = errors.New("uef: host channel unavailable")
	ErrAuthorizationDenied = errors.New("uef: host rejected the token")
)

// Port is the private channel the host hands over with its hello response.
type Port interface {
	PostMessage(data []byte) error
}

// Session is the negotiated channel. It is owned by a Negotiator and only
// touched while the negotiator's lock is held: from Role hooks or through
// Negotiator methods.
type Session struct {
	port       Port
	authorized bool

	pending    string // correlation id of the outstanding portal:panel
	closeToken string // onClose callback id of the last requested panel
	panelID    string

	panelType       string
	closeCallbackID string
	content         Node

	log     zerolog.Logger
	onError func(error)
}

func (s *Session) Authorized() bool { return s.authorized }

// PanelID is the open panel's portal id, or "" when none is open.
func (s *Session) PanelID() string { return s.panelID }

// Pending is the correlation id of the outstanding panel request, or "".
func (s *Session) Pending() string { return s.pending }

// CloseCallbackID is the default onClose token for panels.
func (s *Session) CloseCallbackID() string { return s.closeCallbackID }

// send never panics; failures are logged and returned.
func (s *Session) send(m Outbound) error {
	b, err := Encode(m)
	if err != nil {
		s.log.Error().Err(err).Msg("encode failed")
		return err
	}
	if err := s.port.PostMessage(b); err != nil {
		s.log.Error().Err(err).Str("type", string(m.MessageType())).Msg("postMessage failed")
		return err
	}
	s.log.Debug().Str("type", string(m.MessageType())).Msg("sent")
	return nil
}

// Subscribe asks the host for events of the given types.
func (s *Session) Subscribe(events ...string) error {
	if !s.authorized {
		return ErrNotReady
	}
	return s.send(Subscribe{Subscriptions: events})
}

// OpenPanel requests a host panel and returns the correlation id the host
// must echo. Only one request may be outstanding.
func (s *Session) OpenPanel(title, onCloseToken string) (string, error) {
	if !s.authorized {
		return "", ErrNotReady
	}
	if s.pending != "" {
		return "", ErrPanelPending
	}
	id := "panel-" + ksuid.New().String()
	req := PanelRequest{
		CorrelationID: id,
		PanelType:     s.panelType,
		PanelTitle:    title,
	}
	if onCloseToken != "" {
		req.Attributes.OnClose = &Callback{CallbackID: onCloseToken}
	}
	if err := s.send(req); err != nil {
		return "", err
	}
	s.pending = id
	s.closeToken = onCloseToken
	s.log.Info().Str("correlation_id", id).Msg("panel requested")
	return id, nil
}

// RenderContent fills a portal. The host sends no reply.
func (s *Session) RenderContent(panelID string, content Node) error {
	if !s.authorized {
		return ErrNotReady
	}
	if panelID == "" {
		return fmt.Errorf("uef: render: empty portal id")
	}
	return s.send(Render{PortalID: panelID, Contents: content})
}

// OnPanelClosed forgets the open panel. Repeated or unknown closes are no-ops.
func (s *Session) OnPanelClosed(callbackToken string) {
	if s.panelID == "" {
		s.log.Debug().Str("callback_id", callbackToken).Msg("close for no open panel")
		return
	}
	s.log.Info().Str("portal_id", s.panelID).Msg("panel closed")
	s.panelID = ""
}

func (s *Session) handlePanelResponse(r PanelResponse) {
	if s.pending == "" || r.CorrelationID != s.pending {
		s.log.Debug().Str("correlation_id", r.CorrelationID).Msg("panel response without a matching request")
		return
	}
	s.pending = ""
	if r.Status == StatusSuccess && r.PortalID != "" {
		s.panelID = r.PortalID
		_ = s.RenderContent(r.PortalID, s.content)
		return
	}
	s.log.Warn().Str("correlation_id", r.CorrelationID).Str("status", r.Status).Msg("panel creation failed")
	if s.onError != nil {
		s.onError(fmt.Errorf("%w: status %q", ErrPanelCreationFailed, r.Status))
	}
}
