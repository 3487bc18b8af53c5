package auth

import (
	"errors"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/pahana-edu/bookshop-checkout/internal/common"
	"github.com/pahana-edu/bookshop-checkout/internal/obs"
)

const challenge = `Bearer realm="bookshop-checkout"`

var errNoToken = common.NewAppError("UNAUTHORIZED", "missing or invalid token", http.StatusUnauthorized, nil)

// Middleware resolves the checkout session from the request's bearer token, falling back to
// the storefront's access cookie when AccessCookie is set.
type Middleware struct {
	Verifier     *Verifier
	AccessCookie string
}

// RequireAuth answers 401 unless the request carries a valid token. The session is stored on
// the context for handlers, the idempotency layer and the request log.
func (m Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Verifier == nil {
			common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "auth not configured", nil)
			return
		}
		sess, err := m.authenticate(r)
		if err != nil {
			w.Header().Set("WWW-Authenticate", challenge)
			var appErr *common.AppError
			if !errors.As(err, &appErr) {
				appErr = errNoToken
			}
			common.JSONError(w, http.StatusUnauthorized, appErr.Code, appErr.Message, nil)
			return
		}

		ctx := r.Context()
		obs.SetRequestUser(ctx, sess.UserID)
		trace.SpanFromContext(ctx).SetAttributes(attribute.String("enduser.id", sess.UserID))
		ctx = common.WithUserID(WithSession(ctx, sess), sess.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin answers 403 for non-admin sessions. It must run after RequireAuth.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := SessionFrom(r.Context())
		switch {
		case !ok:
			w.Header().Set("WWW-Authenticate", challenge)
			common.JSONError(w, http.StatusUnauthorized, errNoToken.Code, errNoToken.Message, nil)
		case !sess.IsAdmin():
			common.JSONError(w, http.StatusForbidden, "FORBIDDEN", "admin role required", nil)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

func (m Middleware) authenticate(r *http.Request) (Session, error) {
	token := bearerToken(r.Header.Get("Authorization"))
	if token == "" && m.AccessCookie != "" {
		if c, err := r.Cookie(m.AccessCookie); err == nil {
			token = strings.TrimSpace(c.Value)
		}
	}
	if token == "" {
		return Session{}, errNoToken
	}
	return m.Verifier.ParseSession(token)
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
