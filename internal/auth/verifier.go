package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/pahana-edu/bookshop-checkout/internal/common"
)

// Claim names tried in order when reading identity out of a bookshop token.
var (
	userIDClaims = []string{"userId", "id", "user_id", jwt.SubjectKey}
	emailClaims  = []string{"userEmail", "email", "user_email"}
	roleClaims   = []string{"userType", "role", "user_type"}
)

// Config configures a Verifier.
type Config struct {
	Secret        string
	Issuer        string
	Audience      string
	ClockSkew     time.Duration
	RequireExpiry bool
}

const tokenAlgorithm = jwa.HS256

// Verifier validates HS256 tokens signed with the secret shared with the bookshop backend.
// Issuer and audience are only enforced when configured; the bookshop backend does not
// always set them.
type Verifier struct {
	secret        []byte
	issuer        string
	audience      string
	skew          time.Duration
	requireExpiry bool
	now           func() time.Time
}

// NewVerifier constructs a Verifier.
func NewVerifier(cfg Config) (*Verifier, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errors.New("auth: secret is required")
	}
	return &Verifier{
		secret:        []byte(secret),
		issuer:        strings.TrimSpace(cfg.Issuer),
		audience:      strings.TrimSpace(cfg.Audience),
		skew:          max(cfg.ClockSkew, 0),
		requireExpiry: cfg.RequireExpiry,
		now:           time.Now,
	}, nil
}

// WithNow allows tests to override the time provider.
func (v *Verifier) WithNow(now func() time.Time) {
	if now != nil {
		v.now = now
	}
}

func unauthorized(err error) error {
	return common.NewAppError("UNAUTHORIZED", "invalid token", http.StatusUnauthorized, err)
}

// ParseSession validates token and builds a Session from its claims.
func (v *Verifier) ParseSession(token string) (Session, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return Session{}, common.NewAppError("UNAUTHORIZED", "missing token", http.StatusUnauthorized, nil)
	}
	algorithm, err := extractTokenAlgorithm(trimmed)
	if err != nil {
		return Session{}, unauthorized(err)
	}
	if algorithm != tokenAlgorithm {
		return Session{}, unauthorized(fmt.Errorf("unexpected token algorithm %s", algorithm))
	}
	parsed, err := jwt.ParseString(trimmed, jwt.WithKey(algorithm, v.secret), jwt.WithValidate(false))
	if err != nil {
		return Session{}, unauthorized(err)
	}
	if err := v.validateClaims(parsed); err != nil {
		return Session{}, unauthorized(err)
	}

	sess := Session{
		UserID: claimString(parsed, userIDClaims),
		Email:  claimString(parsed, emailClaims),
		Role:   claimString(parsed, roleClaims),
		Token:  trimmed,
	}
	if !sess.Valid() {
		return Session{}, unauthorized(errors.New("auth: token carries no user id"))
	}
	return sess, nil
}

// Issue signs a token carrying the session's identity claims. The bookshop backend normally
// issues tokens; this exists for tooling and tests.
func (v *Verifier) Issue(s Session, ttl time.Duration) (string, error) {
	now := v.now()
	builder := jwt.NewBuilder().
		Subject(s.UserID).
		IssuedAt(now).
		NotBefore(now.Add(-v.skew)).
		Claim("userId", s.UserID)
	if ttl > 0 {
		builder = builder.Expiration(now.Add(ttl))
	}
	if v.issuer != "" {
		builder = builder.Issuer(v.issuer)
	}
	if v.audience != "" {
		builder = builder.Audience([]string{v.audience})
	}
	if s.Email != "" {
		builder = builder.Claim("userEmail", s.Email)
	}
	if s.Role != "" {
		builder = builder.Claim("userType", s.Role)
	}
	tok, err := builder.Build()
	if err != nil {
		return "", err
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(tokenAlgorithm, v.secret))
	if err != nil {
		return "", err
	}
	return string(signed), nil
}

func (v *Verifier) validateClaims(tok jwt.Token) error {
	opts := []jwt.ValidateOption{
		jwt.WithClock(jwt.ClockFunc(v.now)),
		jwt.WithAcceptableSkew(v.skew),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	if v.requireExpiry {
		opts = append(opts, jwt.WithRequiredClaim(jwt.ExpirationKey))
	}
	return jwt.Validate(tok, opts...)
}

func claimString(tok jwt.Token, names []string) string {
	for _, name := range names {
		if name == jwt.SubjectKey {
			if sub := strings.TrimSpace(tok.Subject()); sub != "" {
				return sub
			}
			continue
		}
		raw, ok := tok.Get(name)
		if !ok {
			continue
		}
		switch t := raw.(type) {
		case string:
			if s := strings.TrimSpace(t); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64)
		case int64:
			return strconv.FormatInt(t, 10)
		}
	}
	return ""
}

func extractTokenAlgorithm(token string) (jwa.SignatureAlgorithm, error) {
	message, err := jws.ParseString(token)
	if err != nil {
		return "", err
	}
	signatures := message.Signatures()
	if len(signatures) == 0 {
		return "", errors.New("auth: token contains no signatures")
	}
	var algorithm jwa.SignatureAlgorithm
	for _, sig := range signatures {
		headers := sig.ProtectedHeaders()
		if headers == nil {
			return "", errors.New("auth: token missing protected headers")
		}
		alg := headers.Algorithm()
		if alg == "" || alg == jwa.NoSignature {
			return "", errors.New("auth: token missing usable algorithm")
		}
		if algorithm == "" {
			algorithm = alg
		} else if algorithm != alg {
			return "", errors.New("auth: mixed token algorithms detected")
		}
	}
	return algorithm, nil
}
