package passport

import (
	"embed"
	"html/template"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/immutable/go-passport/auth"
	"github.com/immutable/go-passport/messaging"
	"github.com/immutable/go-passport/oauthmodel"
)

// BridgePath is where confirmation pages connect their websocket.
const BridgePath = "/passport/bridge"

//go:embed templates/*
var templateFiles embed.FS

var callbackPage = template.Must(template.ParseFS(templateFiles, "templates/callback.html"))

type callbackView struct {
	Title            string
	Detail           string
	Error            string
	CloseAfterMillis int
}

// Handler serves the redirect URI, the logout redirect URI and the
// confirmation bridge. Mount it on the origin of the redirect URI.
func (p *Passport) Handler() http.Handler {
	r := chi.NewRouter()

	callback := ChainMiddleware(p.loginCallbackHandler(), p.pageMiddleware()...)
	redirectPath := path(p.cfg.RedirectURI)
	r.Get(redirectPath, callback)
	r.Post(redirectPath, callback)

	if p.cfg.LogoutRedirectURI != "" {
		r.Get(path(p.cfg.LogoutRedirectURI), ChainMiddleware(p.logoutCallbackHandler(), p.pageMiddleware()...))
	}

	r.Handle(BridgePath, p.bridge)
	return r
}

func (p *Passport) loginCallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// form_post responses arrive in the body, the default mode in the query
		if err := r.ParseForm(); err != nil {
			p.renderCallback(w, http.StatusBadRequest, callbackView{Title: "Login failed", Error: "malformed callback"})
			return
		}
		params := oauthmodel.CallbackParametersFromValues(r.Form)
		if _, err := p.completeLogin(r.Context(), params); err != nil {
			p.renderCallback(w, http.StatusBadRequest, callbackView{
				Title:  "Login failed",
				Error:  err.Error(),
				Detail: "Return to the application and try again.",
			})
			return
		}
		p.renderCallback(w, http.StatusOK, callbackView{
			Title:            "Logged in",
			Detail:           "You can close this window and return to the application.",
			CloseAfterMillis: 1000,
		})
	}
}

func (p *Passport) logoutCallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		if r.URL.Query().Has(auth.LogoutStateParam) {
			err = p.LogoutCallback(r.Context(), r.URL.String())
		} else {
			err = p.LogoutSilentCallback(r.Context(), initiatorOrigin(r))
		}
		if err != nil {
			p.renderCallback(w, http.StatusForbidden, callbackView{Title: "Logout failed", Error: err.Error()})
			return
		}
		p.renderCallback(w, http.StatusOK, callbackView{
			Title:            "Logged out",
			Detail:           "You can close this window.",
			CloseAfterMillis: 1000,
		})
	}
}

// initiatorOrigin is the origin of the page that redirected here, when the
// client sent one.
func initiatorOrigin(r *http.Request) string {
	if referer := r.Referer(); referer != "" {
		if origin, err := messaging.Origin(referer); err == nil {
			return origin
		}
	}
	return r.Header.Get("Origin")
}

func (p *Passport) renderCallback(w http.ResponseWriter, status int, view callbackView) {
	if view.CloseAfterMillis == 0 {
		view.CloseAfterMillis = 5000
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := callbackPage.ExecuteTemplate(w, "callback.html", view); err != nil {
		p.logger.Error().Err(err).Msg("rendering callback page failed")
	}
}
