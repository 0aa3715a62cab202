package uef

import (
	"errors"
	"fmt"
)

// Role decides what happens once the host has authorized the integration.
// Hooks run with the negotiator's lock held and must not call back into the
// Negotiator.
type Role interface {
	Name() string
	OnReady(s *Session)
	OnEvent(s *Session, ev Event)
	OnCallback(s *Session, cb CallbackEvent)
	OnHelpRequest(s *Session, req HelpRequest)
}

// RoleOptions configures the built-in roles.
type RoleOptions struct {
	PanelTitle  string
	HelpID      string
	HelpLabel   string
	ButtonLabel string
}

// NewRole returns the built-in role named panel, help or course-button.
func NewRole(name string, o RoleOptions) (Role, error) {
	if o.PanelTitle == "" {
		o.PanelTitle = "NF Chatbot"
	}
	switch name {
	case "panel", "":
		return PanelRole{Title: o.PanelTitle}, nil
	case "help":
		r := HelpRole{ID: o.HelpID, Label: o.HelpLabel, Title: o.PanelTitle}
		if r.ID == "" {
			r.ID = "uef-bridge-help"
		}
		if r.Label == "" {
			r.Label = o.PanelTitle
		}
		return r, nil
	case "course-button":
		r := CourseButtonRole{
			Title:      o.PanelTitle,
			Label:      o.ButtonLabel,
			Selector:   CourseDetailsSelector,
			ClickToken: "uef-bridge-launch-click",
		}
		if r.Label == "" {
			r.Label = "Ask " + o.PanelTitle
		}
		return r, nil
	default:
		return nil, fmt.Errorf("uef: unknown role %q", name)
	}
}

// PanelRole opens a panel as soon as the channel is authorized.
type PanelRole struct {
	Title string
}

func (PanelRole) Name() string { return "panel" }

func (r PanelRole) OnReady(s *Session) {
	_ = s.Subscribe(EventPortalNew)
	if _, err := s.OpenPanel(r.Title, s.CloseCallbackID()); err != nil {
		s.log.Warn().Err(err).Msg("open panel")
	}
}

func (PanelRole) OnEvent(*Session, Event)             {}
func (PanelRole) OnCallback(*Session, CallbackEvent)  {}
func (PanelRole) OnHelpRequest(*Session, HelpRequest) {}

// HelpRole registers a help provider and opens the panel from the help menu.
type HelpRole struct {
	ID    string
	Label string
	Title string
}

func (HelpRole) Name() string { return "help" }

func (r HelpRole) OnReady(s *Session) {
	_ = s.send(HelpRegister{Provider: HelpProvider{ID: r.ID, Label: r.Label}})
	_ = s.Subscribe(EventPortalNew)
}

func (HelpRole) OnEvent(*Session, Event)            {}
func (HelpRole) OnCallback(*Session, CallbackEvent) {}

func (r HelpRole) OnHelpRequest(s *Session, req HelpRequest) {
	status := StatusSuccess
	if _, err := s.OpenPanel(r.Title, s.CloseCallbackID()); err != nil && !errors.Is(err, ErrPanelPending) {
		s.log.Warn().Err(err).Msg("open panel for help request")
		status = StatusFailure
	}
	_ = s.send(HelpResponse{RequestID: req.RequestID, Status: status})
}

// CourseDetailsSelector is the course outline portal that hosts the button.
const CourseDetailsSelector = "course.outline.details"

// CourseButtonRole renders a launch button into new course portals and opens
// the panel when it is clicked.
type CourseButtonRole struct {
	Title      string
	Label      string
	Selector   string
	ClickToken string
}

func (CourseButtonRole) Name() string { return "course-button" }

func (r CourseButtonRole) OnReady(s *Session) {
	_ = s.Subscribe(EventPortalNew)
}

func (r CourseButtonRole) OnEvent(s *Session, ev Event) {
	if ev.EventType != EventPortalNew || ev.Selector != r.Selector || ev.PortalID == "" {
		return
	}
	_ = s.RenderContent(ev.PortalID, LaunchButton(r.Label, r.ClickToken))
}

func (r CourseButtonRole) OnCallback(s *Session, cb CallbackEvent) {
	if cb.CallbackID != r.ClickToken {
		return
	}
	if _, err := s.OpenPanel(r.Title, s.CloseCallbackID()); err != nil {
		s.log.Warn().Err(err).Msg("open panel from button")
	}
}

func (CourseButtonRole) OnHelpRequest(*Session, HelpRequest) {}
