package httpapi

import (
	"net/http"
	"strconv"

	apperrors "github.com/clyde-sh/novus/internal/platform/errors"
	"github.com/clyde-sh/novus/internal/services/auth/directory"
	"github.com/clyde-sh/novus/internal/services/auth/user"
	"github.com/go-chi/chi/v5"
)

var errForbidden = apperrors.New(apperrors.CodePermissionDenied, "not allowed to access this user")

func (s *Server) getMe(w http.ResponseWriter, r *http.Request) error {
	return s.writeUser(w, r, principal(r.Context()).ID)
}

func (s *Server) updateMe(w http.ResponseWriter, r *http.Request) error {
	var req updateMeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	updated, err := s.users.UpdateUser(r.Context(), principal(r.Context()).ID, directory.UpdateInput{Email: req.Email})
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, toUserResponse(updated, nil))
	return nil
}

// deleteMe removes the caller's account along with its sessions.
func (s *Server) deleteMe(w http.ResponseWriter, r *http.Request) error {
	if err := s.users.DeleteUser(r.Context(), principal(r.Context()).ID); err != nil {
		return err
	}
	s.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// changePassword revokes every session, including the caller's.
func (s *Server) changePassword(w http.ResponseWriter, r *http.Request) error {
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	if err := s.auth.ChangePassword(r.Context(), principal(r.Context()).ID, req.CurrentPassword, req.NewPassword); err != nil {
		return err
	}
	s.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) error {
	caller := principal(r.Context())
	userID := chi.URLParam(r, "id")
	if userID != caller.ID && !caller.IsAdmin() {
		return errForbidden
	}
	return s.writeUser(w, r, userID)
}

func (s *Server) writeUser(w http.ResponseWriter, r *http.Request, userID string) error {
	found, err := s.users.FindByID(r.Context(), userID)
	if err != nil {
		return err
	}
	methods, err := s.users.ListMethods(r.Context(), found.ID)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, toUserResponse(found, methods))
	return nil
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) error {
	pageSize := 0
	if raw := r.URL.Query().Get("page_size"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return apperrors.New(apperrors.CodeInvalidArgument, "page_size must be a number")
		}
		pageSize = parsed
	}
	page, err := s.users.ListUsers(r.Context(), pageSize, r.URL.Query().Get("page_token"))
	if err != nil {
		return err
	}
	resp := userListResponse{Users: make([]userResponse, 0, len(page.Users)), NextPageToken: page.NextPageToken}
	for _, u := range page.Users {
		resp.Users = append(resp.Users, toUserResponse(u, nil))
	}
	writeJSON(w, http.StatusOK, resp)
	return nil
}

// updateUser applies admin edits. Banning goes through the orchestrator so
// the user's sessions are revoked with it.
func (s *Server) updateUser(w http.ResponseWriter, r *http.Request) error {
	var req updateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	userID := chi.URLParam(r, "id")
	input := directory.UpdateInput{Email: req.Email}
	if req.Role != nil {
		role, err := user.ParseRole(*req.Role)
		if err != nil {
			return err
		}
		input.Role = &role
	}
	if input.Email != nil || input.Role != nil {
		if _, err := s.users.UpdateUser(r.Context(), userID, input); err != nil {
			return err
		}
	}
	if req.Banned != nil {
		if err := s.auth.BanUser(r.Context(), userID, *req.Banned); err != nil {
			return err
		}
	}
	return s.writeUser(w, r, userID)
}

func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) error {
	if err := s.users.DeleteUser(r.Context(), chi.URLParam(r, "id")); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}
