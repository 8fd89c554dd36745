package http

import (
	"net/http"
	"strings"

	"github.com/Wyydra/learnloop/internal/core/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// bearerToken reads the Authorization header, falling back to ?token= since
// browsers cannot set headers on a socket upgrade.
func bearerToken(r *http.Request) string {
	if v := r.Header.Get("Authorization"); v != "" {
		if token, ok := strings.CutPrefix(v, "Bearer "); ok {
			return token
		}
	}
	return r.URL.Query().Get("token")
}

func (h *Handler) authenticate(r *http.Request) (domain.UserID, error) {
	user, err := h.Auth.Authenticate(r.Context(), bearerToken(r))
	if err != nil {
		return "", err
	}
	hlog.FromRequest(r).UpdateContext(func(c zerolog.Context) zerolog.Context {
		return c.Str("user_id", user.String())
	})
	return user, nil
}

func (h *Handler) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := h.authenticate(r); err != nil {
			hlog.FromRequest(r).Debug().Err(err).Msg("Rejected request")
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}
