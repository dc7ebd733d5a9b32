package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/kudos-app/kudos/pkg/kudos/apperr"
	"github.com/kudos-app/kudos/pkg/kudos/authz"
	"github.com/kudos-app/kudos/pkg/kudos/i18n"
)

// negotiateLanguage resolves Accept-Language once per request and
// reflects the chosen tag in Content-Language.
func (s *Server) negotiateLanguage(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tag := i18n.Negotiate(r.Header.Get("Accept-Language"))
		w.Header().Set("Content-Language", tag.String())
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxLang, tag)))
	})
}

// requireAuth validates the bearer token and stores the actor in the
// request context.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			s.writeError(w, r, apperr.ErrUnauthorized)
			return
		}
		claims, err := s.tokens.ValidateAccess(strings.TrimPrefix(header, prefix))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		actor := authz.Actor{
			UserID:       claims.Subject,
			UserTypeCode: claims.UserType,
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxActor, actor)))
	})
}

func actorFrom(ctx context.Context) authz.Actor {
	actor, _ := ctx.Value(ctxActor).(authz.Actor)
	return actor
}
