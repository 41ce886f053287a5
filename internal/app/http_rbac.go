package app

import (
	"net/http"

	"siteeditor/api/internal/rbac"
)

// requirePermission rejects sessions whose role does not allow action. It
// must run behind requireSession.
func (s *HTTPServer) requirePermission(action rbac.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session := sessionFrom(r.Context())
			if !s.service.Can(session.Role, action) {
				s.forbid(w, r, session, action)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *HTTPServer) forbid(w http.ResponseWriter, r *http.Request, session Session, action rbac.Action) {
	s.logger.WarnContext(r.Context(), "permission denied",
		"operator_id", session.OperatorID,
		"role", session.Role,
		"action", string(action),
		"path", r.URL.Path,
	)
	writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}
