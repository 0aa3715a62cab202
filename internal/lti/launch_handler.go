package lti

import (
	"net/http"
)

// LaunchFunc writes the response for a verified launch.
type LaunchFunc func(w http.ResponseWriter, r *http.Request, id IdentityAssertion, targetLinkURI string)

// LaunchHandler receives the platform's form_post with id_token and state.
// Failures get a short reason only; details go to the server log.
func LaunchHandler(a *Authenticator, onLaunch LaunchFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		idtok := r.PostFormValue("id_token")
		st := r.PostFormValue("state")
		if idtok == "" || st == "" {
			http.Error(w, "missing id_token or state", http.StatusBadRequest)
			return
		}
		id, target, err := a.CompleteLogin(r.Context(), idtok, st)
		if err != nil {
			http.Error(w, PublicReason(err), HTTPStatus(err))
			return
		}
		onLaunch(w, r, id, target)
	}
}
