package uef

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Type is the UEF wire "type" field.
type Type string

const (
	TypeHello         Type = "integration:hello"
	TypeAuthorize     Type = "authorization:authorize"
	TypeSubscribe     Type = "event:subscribe"
	TypePanel         Type = "portal:panel"
	TypePanelResponse Type = "portal:panel:response"
	TypeRender        Type = "portal:render"
	TypeCallback      Type = "portal:callback"
	TypeEvent         Type = "event:event"
	TypeHelpRegister  Type = "help:register"
	TypeHelpRequest   Type = "help:request"
	TypeHelpResponse  Type = "help:response"
)

const (
	EventPortalNew = "portal:new"
	StatusSuccess  = "success"
	StatusFailure  = "failure"
)

var ErrMalformed = errors.New("uef: malformed message")

// Outbound is a message this integration sends.
type Outbound interface {
	MessageType() Type
}

type Hello struct{}

type Authorize struct {
	Token string `json:"token"`
}

type Subscribe struct {
	Subscriptions []string `json:"subscriptions"`
}

type Callback struct {
	CallbackID string `json:"callbackId"`
}

type PanelAttributes struct {
	OnClose *Callback `json:"onClose,omitempty"`
}

type PanelRequest struct {
	CorrelationID string          `json:"correlationId"`
	PanelType     string          `json:"panelType"`
	PanelTitle    string          `json:"panelTitle"`
	Attributes    PanelAttributes `json:"attributes"`
}

type Render struct {
	PortalID string `json:"portalId"`
	Contents Node   `json:"contents"`
}

type HelpProvider struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	IconURL string `json:"iconUrl,omitempty"`
}

type HelpRegister struct {
	Provider HelpProvider `json:"provider"`
}

type HelpResponse struct {
	RequestID string `json:"requestId"`
	Status    string `json:"status"`
}

func (Hello) MessageType() Type        { return TypeHello }
func (Authorize) MessageType() Type    { return TypeAuthorize }
func (Subscribe) MessageType() Type    { return TypeSubscribe }
func (PanelRequest) MessageType() Type { return TypePanel }
func (Render) MessageType() Type       { return TypeRender }
func (HelpRegister) MessageType() Type { return TypeHelpRegister }
func (HelpResponse) MessageType() Type { return TypeHelpResponse }

// Encode marshals m as a JSON object with its "type" field set.
func Encode(m Outbound) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("uef: encode %s: %w", m.MessageType(), err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("uef: encode %s: %w", m.MessageType(), err)
	}
	fields["type"], _ = json.Marshal(m.MessageType())
	return json.Marshal(fields)
}

// Inbound is a message received from the host.
type Inbound interface {
	inbound()
}

// HelloResponse is the host's answer to Hello; the channel arrives alongside it.
type HelloResponse struct{}

// AuthorizeAck confirms the token. OK is nil when the host omits it.
type AuthorizeAck struct {
	OK     *bool  `json:"ok,omitempty"`
	Status string `json:"status,omitempty"`
}

// Accepted reports whether the host accepted the token. An ack without an
// explicit ok/status counts as accepted.
func (a AuthorizeAck) Accepted() bool {
	if a.OK != nil {
		return *a.OK
	}
	return a.Status != "error" && a.Status != StatusFailure
}

type PanelResponse struct {
	CorrelationID string `json:"correlationId"`
	Status        string `json:"status"`
	PortalID      string `json:"portalId"`
}

type CallbackEvent struct {
	CallbackID string `json:"callbackId"`
}

type Event struct {
	EventType string `json:"eventType"`
	Selector  string `json:"selector,omitempty"`
	PortalID  string `json:"portalId,omitempty"`
}

type HelpRequest struct {
	RequestID string `json:"requestId"`
}

// Unknown carries any type this integration does not handle.
type Unknown struct {
	Type Type
}

func (HelloResponse) inbound() {}
func (AuthorizeAck) inbound()  {}
func (PanelResponse) inbound() {}
func (CallbackEvent) inbound() {}
func (Event) inbound()         {}
func (HelpRequest) inbound()   {}
func (Unknown) inbound()       {}

// Decode reads the "type" field and unmarshals data into the matching
// Inbound variant.
func Decode(data []byte) (Inbound, error) {
	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var msg Inbound
	switch head.Type {
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	case TypeHello:
		return HelloResponse{}, nil
	case TypeAuthorize:
		msg = &AuthorizeAck{}
	case TypePanelResponse:
		msg = &PanelResponse{}
	case TypeCallback:
		msg = &CallbackEvent{}
	case TypeEvent:
		msg = &Event{}
	case TypeHelpRequest:
		msg = &HelpRequest{}
	default:
		return Unknown{Type: head.Type}, nil
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, head.Type, err)
	}
	return deref(msg), nil
}

func deref(m Inbound) Inbound {
	switch v := m.(type) {
	case *AuthorizeAck:
		return *v
	case *PanelResponse:
		return *v
	case *CallbackEvent:
		return *v
	case *Event:
		return *v
	case *HelpRequest:
		return *v
	}
	return m
}
