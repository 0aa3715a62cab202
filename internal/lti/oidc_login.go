package lti

import (
	"net/http"
)

// OIDCLoginHandler accepts third-party initiated login (GET query or POST
// form) and redirects the browser to the platform's authorization endpoint.
func OIDCLoginHandler(a *Authenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		req := LoginRequest{
			Issuer:        r.Form.Get("iss"),
			LoginHint:     r.Form.Get("login_hint"),
			TargetLinkURI: r.Form.Get("target_link_uri"),
			MessageHint:   r.Form.Get("lti_message_hint"),
			ClientID:      r.Form.Get("client_id"),
			DeploymentID:  r.Form.Get("lti_deployment_id"),
		}
		redirect, err := a.InitiateLogin(r.Context(), req)
		if err != nil {
			http.Error(w, PublicReason(err), HTTPStatus(err))
			return
		}
		http.Redirect(w, r, redirect, http.StatusFound)
	}
}
