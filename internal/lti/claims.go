package lti

import (
	"github.com/golang-jwt/jwt/v5"
)

const (
	claimMessageType  = "https://purl.imsglobal.org/spec/lti/claim/message_type"
	claimVersion      = "https://purl.imsglobal.org/spec/lti/claim/version"
	claimDeployment   = "https://purl.imsglobal.org/spec/lti/claim/deployment_id"
	claimTarget       = "https://purl.imsglobal.org/spec/lti/claim/target_link_uri"
	claimContext      = "https://purl.imsglobal.org/spec/lti/claim/context"
	claimResourceLink = "https://purl.imsglobal.org/spec/lti/claim/resource_link"
	claimRoles        = "https://purl.imsglobal.org/spec/lti/claim/roles"
	claimPresentation = "https://purl.imsglobal.org/spec/lti/claim/launch_presentation"
	claimToolPlatform = "https://purl.imsglobal.org/spec/lti/claim/tool_platform"
	claimCustom       = "https://purl.imsglobal.org/spec/lti/claim/custom"

	MessageTypeResourceLink = "LtiResourceLinkRequest"
	MessageTypeDeepLink     = "LtiDeepLinkingRequest"
	Version                 = "1.3.0"
)

// ContextClaim is the course (or other container) the launch came from.
type ContextClaim struct {
	ID    string   `json:"id"`
	Label string   `json:"label,omitempty"`
	Title string   `json:"title,omitempty"`
	Type  []string `json:"type,omitempty"`
}

type resourceLinkClaim struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
}

type presentationClaim struct {
	ReturnURL      string `json:"return_url,omitempty"`
	DocumentTarget string `json:"document_target,omitempty"`
}

type toolPlatformClaim struct {
	GUID string `json:"guid,omitempty"`
	Name string `json:"name,omitempty"`
	URL  string `json:"url,omitempty"`
}

// launchClaims is the id_token payload as sent by the platform.
type launchClaims struct {
	jwt.RegisteredClaims

	Nonce string `json:"nonce"`
	AZP   string `json:"azp,omitempty"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`

	MessageType   string             `json:"https://purl.imsglobal.org/spec/lti/claim/message_type"`
	Version       string             `json:"https://purl.imsglobal.org/spec/lti/claim/version"`
	DeploymentID  string             `json:"https://purl.imsglobal.org/spec/lti/claim/deployment_id"`
	TargetLinkURI string             `json:"https://purl.imsglobal.org/spec/lti/claim/target_link_uri"`
	Context       *ContextClaim      `json:"https://purl.imsglobal.org/spec/lti/claim/context,omitempty"`
	ResourceLink  *resourceLinkClaim `json:"https://purl.imsglobal.org/spec/lti/claim/resource_link,omitempty"`
	Roles         []string           `json:"https://purl.imsglobal.org/spec/lti/claim/roles"`
	Presentation  *presentationClaim `json:"https://purl.imsglobal.org/spec/lti/claim/launch_presentation,omitempty"`
	ToolPlatform  *toolPlatformClaim `json:"https://purl.imsglobal.org/spec/lti/claim/tool_platform,omitempty"`
	Custom        map[string]any     `json:"https://purl.imsglobal.org/spec/lti/claim/custom,omitempty"`
}

// IdentityAssertion is the verified result of a launch. It is only built from
// a token whose signature, issuer, audience, expiry and nonce all checked out.
type IdentityAssertion struct {
	Subject        string
	Issuer         string
	Audience       []string
	Nonce          string
	Name           string
	Email          string
	MessageType    string
	DeploymentID   string
	TargetLinkURI  string
	Context        ContextClaim
	ResourceLinkID string
	Roles          []string
	ReturnURL      string
	PlatformURL    string
	Custom         map[string]any
}

func (c *launchClaims) assertion() IdentityAssertion {
	a := IdentityAssertion{
		Subject:       c.Subject,
		Issuer:        c.Issuer,
		Audience:      []string(c.Audience),
		Nonce:         c.Nonce,
		Name:          c.Name,
		Email:         c.Email,
		MessageType:   c.MessageType,
		DeploymentID:  c.DeploymentID,
		TargetLinkURI: c.TargetLinkURI,
		Roles:         append([]string(nil), c.Roles...),
		Custom:        c.Custom,
	}
	if c.Context != nil {
		a.Context = *c.Context
	}
	if c.ResourceLink != nil {
		a.ResourceLinkID = c.ResourceLink.ID
	}
	if c.Presentation != nil {
		a.ReturnURL = c.Presentation.ReturnURL
	}
	if c.ToolPlatform != nil {
		a.PlatformURL = c.ToolPlatform.URL
	}
	return a
}
