package httpapi

import (
	"net/http"

	"github.com/clyde-sh/novus/internal/platform/requestctx"
	"github.com/clyde-sh/novus/internal/services/auth/session"
)

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	live, err := s.sessions.List(ctx, requestctx.UserIDFromContext(ctx))
	if err != nil {
		return err
	}
	current := requestctx.SessionIDFromContext(ctx)
	resp := make([]*sessionResponse, 0, len(live))
	for _, item := range live {
		out := toSessionResponse(item)
		out.Current = item.ID == current
		resp = append(resp, out)
	}
	writeJSON(w, http.StatusOK, sessionListResponse{Sessions: resp})
	return nil
}

// refreshSession rotates the caller's session; the old id stops working.
func (s *Server) refreshSession(w http.ResponseWriter, r *http.Request) error {
	next, err := s.sessions.Refresh(r.Context(), requestctx.SessionIDFromContext(r.Context()))
	if err != nil {
		return err
	}
	s.writeSession(w, http.StatusOK, next)
	return nil
}

// revokeSession revokes the caller's session by default, another of the
// caller's sessions by id, or all of them.
func (s *Server) revokeSession(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	var req revokeRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		return err
	}
	userID := requestctx.UserIDFromContext(ctx)
	current := requestctx.SessionIDFromContext(ctx)

	if req.All {
		if err := s.sessions.RevokeAllForUser(ctx, userID); err != nil {
			return err
		}
		s.clearSessionCookie(w)
		w.WriteHeader(http.StatusNoContent)
		return nil
	}

	target := req.SessionID
	if target == "" {
		target = current
	}
	if target != current {
		live, err := s.sessions.List(ctx, userID)
		if err != nil {
			return err
		}
		owned := false
		for _, item := range live {
			if item.ID == target {
				owned = true
				break
			}
		}
		if !owned {
			return session.ErrNotFound
		}
	}
	if err := s.sessions.Revoke(ctx, target); err != nil {
		return err
	}
	if target == current {
		s.clearSessionCookie(w)
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}
