package httpapi

import (
	"encoding/json"
	"time"

	"github.com/clyde-sh/novus/internal/services/auth/orchestrator"
	"github.com/clyde-sh/novus/internal/services/auth/storage"
	"github.com/clyde-sh/novus/internal/services/auth/twofactor"
	"github.com/clyde-sh/novus/internal/services/auth/user"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type oauthLoginRequest struct {
	RedirectURI string `json:"redirect_uri"`
}

type oauthLoginResponse struct {
	AuthorizationURL string `json:"authorization_url"`
}

type oauthCallbackRequest struct {
	State string `json:"state"`
	Code  string `json:"code"`
}

type challengeResponse struct {
	SessionID string          `json:"session_id"`
	Options   json.RawMessage `json:"options"`
}

type assertionRequest struct {
	SessionID  string          `json:"session_id"`
	Credential json.RawMessage `json:"credential"`
}

type ticketRequest struct {
	Ticket string `json:"ticket"`
}

type secondFactorVerifyRequest struct {
	Ticket string `json:"ticket"`
	Code   string `json:"code"`
}

type secondFactorChallengeResponse struct {
	Method    string    `json:"method"`
	ExpiresAt time.Time `json:"expires_at"`
}

type enrollRequest struct {
	Destination string `json:"destination"`
}

type enrollResponse struct {
	Method      string    `json:"method"`
	Destination string    `json:"destination,omitempty"`
	Secret      string    `json:"secret,omitempty"`
	URL         string    `json:"url,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type codeRequest struct {
	Code string `json:"code"`
}

type methodsResponse struct {
	Methods []string `json:"methods"`
}

type sessionResponse struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	UserAgent string    `json:"user_agent,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	Current   bool      `json:"current,omitempty"`
}

type sessionListResponse struct {
	Sessions []*sessionResponse `json:"sessions"`
}

type pendingResponse struct {
	Ticket    string    `json:"ticket"`
	ExpiresAt time.Time `json:"expires_at"`
	Methods   []string  `json:"methods"`
}

type loginResponse struct {
	Session      *sessionResponse `json:"session,omitempty"`
	SecondFactor *pendingResponse `json:"second_factor,omitempty"`
	Created      bool             `json:"created,omitempty"`
	Linked       bool             `json:"linked,omitempty"`
}

type methodResponse struct {
	ID        string    `json:"id"`
	Method    string    `json:"method"`
	Provider  string    `json:"provider,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type userResponse struct {
	ID        string           `json:"id"`
	Email     string           `json:"email"`
	Role      string           `json:"role"`
	IsBanned  bool             `json:"is_banned"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
	Methods   []methodResponse `json:"methods,omitempty"`
}

type userListResponse struct {
	Users         []userResponse `json:"users"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type updateMeRequest struct {
	Email *string `json:"email"`
}

type updateUserRequest struct {
	Email  *string `json:"email"`
	Role   *string `json:"role"`
	Banned *bool   `json:"banned"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type revokeRequest struct {
	SessionID string `json:"session_id"`
	All       bool   `json:"all"`
}

func toSessionResponse(s storage.Session) *sessionResponse {
	return &sessionResponse{
		ID:        s.ID,
		UserID:    s.UserID,
		UserAgent: s.UserAgent,
		ExpiresAt: s.ExpiresAt,
		CreatedAt: s.CreatedAt,
	}
}

func toPendingResponse(p *orchestrator.Pending) *pendingResponse {
	return &pendingResponse{
		Ticket:    p.Ticket,
		ExpiresAt: p.ExpiresAt,
		Methods:   methodNames(p.Methods),
	}
}

func methodNames(methods []twofactor.Method) []string {
	names := make([]string, 0, len(methods))
	for _, m := range methods {
		names = append(names, string(m))
	}
	return names
}

func toUserResponse(u user.User, methods []user.AuthMethodRecord) userResponse {
	resp := userResponse{
		ID:        u.ID,
		Email:     u.Email,
		Role:      string(u.Role),
		IsBanned:  u.IsBanned,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
	for _, m := range methods {
		resp.Methods = append(resp.Methods, methodResponse{
			ID:        m.ID,
			Method:    string(m.Method),
			Provider:  m.Provider,
			CreatedAt: m.CreatedAt,
		})
	}
	return resp
}
