package httpapi

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	apperrors "github.com/clyde-sh/novus/internal/platform/errors"
	"github.com/clyde-sh/novus/internal/platform/requestctx"
	"github.com/clyde-sh/novus/internal/services/auth/orchestrator"
	"github.com/clyde-sh/novus/internal/services/auth/storage"
	"github.com/clyde-sh/novus/internal/services/auth/twofactor"
	"github.com/go-chi/chi/v5"
)

// register creates a password user. The caller signs in separately.
func (s *Server) register(w http.ResponseWriter, r *http.Request) error {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	created, err := s.auth.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, toUserResponse(created, nil))
	return nil
}

// login answers 200 with a session, or 202 with a second-factor ticket.
func (s *Server) login(w http.ResponseWriter, r *http.Request) error {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	result, err := s.auth.LoginPassword(r.Context(), req.Email, req.Password, r.UserAgent())
	if err != nil {
		return err
	}
	s.writeLogin(w, result, false, false)
	return nil
}

func (s *Server) writeLogin(w http.ResponseWriter, result orchestrator.Result, created, linked bool) {
	resp := loginResponse{Created: created, Linked: linked}
	if result.Pending != nil {
		resp.SecondFactor = toPendingResponse(result.Pending)
		writeJSON(w, http.StatusAccepted, resp)
		return
	}
	s.setSessionCookie(w, result.Session.ID, result.Session.ExpiresAt)
	resp.Session = toSessionResponse(*result.Session)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeSession(w http.ResponseWriter, status int, session storage.Session) {
	s.setSessionCookie(w, session.ID, session.ExpiresAt)
	writeJSON(w, status, loginResponse{Session: toSessionResponse(session)})
}

func (s *Server) oauthLogin(w http.ResponseWriter, r *http.Request) error {
	var req oauthLoginRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		return err
	}
	if req.RedirectURI == "" {
		req.RedirectURI = r.URL.Query().Get("redirect_uri")
	}
	url, err := s.auth.StartOAuth(r.Context(), chi.URLParam(r, "provider"), req.RedirectURI)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, oauthLoginResponse{AuthorizationURL: url})
	return nil
}

// oauthCallback accepts the provider's redirect (GET query), a form post, or
// a JSON body relayed by a client. A browser redirect with a completed
// session lands on the allowlisted redirect URI.
func (s *Server) oauthCallback(w http.ResponseWriter, r *http.Request) error {
	var req oauthCallbackRequest
	if isJSON(r) {
		if err := decodeJSON(w, r, &req); err != nil {
			return err
		}
	} else {
		req.State = r.FormValue("state")
		req.Code = r.FormValue("code")
	}
	if providerErr := r.FormValue("error"); providerErr != "" && req.Code == "" {
		return apperrors.New(apperrors.CodeInvalidCredentials, "provider denied consent: "+providerErr)
	}

	result, err := s.auth.CompleteOAuth(r.Context(), chi.URLParam(r, "provider"), req.State, req.Code, r.UserAgent())
	if err != nil {
		return err
	}
	if r.Method == http.MethodGet && result.Session != nil && result.RedirectURI != "" {
		s.setSessionCookie(w, result.Session.ID, result.Session.ExpiresAt)
		http.Redirect(w, r, result.RedirectURI, http.StatusFound)
		return nil
	}
	s.writeLogin(w, result.Result, result.Created, result.Linked)
	return nil
}

func (s *Server) webauthnInitiate(w http.ResponseWriter, r *http.Request) error {
	challenge, err := s.auth.BeginWebAuthn(r.Context())
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, challengeResponse{SessionID: challenge.SessionID, Options: challenge.Options})
	return nil
}

func (s *Server) webauthnVerify(w http.ResponseWriter, r *http.Request) error {
	var req assertionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	created, err := s.auth.CompleteWebAuthn(r.Context(), req.SessionID, req.Credential, r.UserAgent())
	if err != nil {
		return err
	}
	s.writeSession(w, http.StatusOK, created)
	return nil
}

func (s *Server) passkeyRegisterInitiate(w http.ResponseWriter, r *http.Request) error {
	challenge, err := s.auth.BeginPasskeyRegistration(r.Context(), requestctx.UserIDFromContext(r.Context()))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, challengeResponse{SessionID: challenge.SessionID, Options: challenge.Options})
	return nil
}

func (s *Server) passkeyRegisterVerify(w http.ResponseWriter, r *http.Request) error {
	var req assertionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	method, err := s.auth.FinishPasskeyRegistration(r.Context(), requestctx.UserIDFromContext(r.Context()), req.SessionID, req.Credential)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, methodResponse{
		ID:        method.ID,
		Method:    string(method.Method),
		Provider:  method.Provider,
		CreatedAt: method.CreatedAt,
	})
	return nil
}

func (s *Server) twoFactorInitiate(w http.ResponseWriter, r *http.Request) error {
	method, err := twofactor.ParseMethod(chi.URLParam(r, "method"))
	if err != nil {
		return err
	}
	var req ticketRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	challenge, err := s.auth.InitiateSecondFactor(r.Context(), req.Ticket, method)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusAccepted, secondFactorChallengeResponse{
		Method:    string(challenge.Method),
		ExpiresAt: challenge.ExpiresAt,
	})
	return nil
}

func (s *Server) twoFactorVerify(w http.ResponseWriter, r *http.Request) error {
	method, err := twofactor.ParseMethod(chi.URLParam(r, "method"))
	if err != nil {
		return err
	}
	var req secondFactorVerifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	created, err := s.auth.CompleteSecondFactor(r.Context(), req.Ticket, method, req.Code, r.UserAgent())
	if err != nil {
		return err
	}
	s.writeSession(w, http.StatusOK, created)
	return nil
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) error {
	if err := s.auth.Logout(r.Context(), requestctx.SessionIDFromContext(r.Context())); err != nil {
		return err
	}
	s.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *Server) twoFactorList(w http.ResponseWriter, r *http.Request) error {
	methods, err := s.auth.SecondFactors(r.Context(), requestctx.UserIDFromContext(r.Context()))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, methodsResponse{Methods: methodNames(methods)})
	return nil
}

func (s *Server) twoFactorEnroll(w http.ResponseWriter, r *http.Request) error {
	method, err := twofactor.ParseMethod(chi.URLParam(r, "method"))
	if err != nil {
		return err
	}
	var req enrollRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		return err
	}
	enrollment, err := s.auth.EnrollSecondFactor(r.Context(), requestctx.UserIDFromContext(r.Context()), method, req.Destination)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusAccepted, enrollResponse{
		Method:      string(enrollment.Method),
		Destination: enrollment.Destination,
		Secret:      enrollment.Secret,
		URL:         enrollment.URL,
		ExpiresAt:   enrollment.Challenge.ExpiresAt,
	})
	return nil
}

func (s *Server) twoFactorConfirm(w http.ResponseWriter, r *http.Request) error {
	method, err := twofactor.ParseMethod(chi.URLParam(r, "method"))
	if err != nil {
		return err
	}
	var req codeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	if err := s.auth.ConfirmSecondFactor(r.Context(), requestctx.UserIDFromContext(r.Context()), method, req.Code); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *Server) twoFactorRemove(w http.ResponseWriter, r *http.Request) error {
	method, err := twofactor.ParseMethod(chi.URLParam(r, "method"))
	if err != nil {
		return err
	}
	if err := s.auth.RemoveSecondFactor(r.Context(), requestctx.UserIDFromContext(r.Context()), method); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func isJSON(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && strings.EqualFold(mediaType, "application/json")
}

// decodeOptionalJSON is decodeJSON for routes whose body may be empty.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil || r.Body == http.NoBody || r.ContentLength == 0 {
		return nil
	}
	err := decodeJSON(w, r, dst)
	if err != nil && errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
