package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Stable error codes reported to clients when a credential is rejected.
const (
	CodeTokenMissing   = "token_missing"
	CodeTokenMalformed = "token_malformed"
	CodeTokenExpired   = "token_expired"
	CodeTokenInvalid   = "token_invalid"
)

var (
	ErrTokenMissing   = errors.New("token missing")
	ErrTokenMalformed = errors.New("token malformed")
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenInvalid   = errors.New("token invalid")
)

// Claims is the JWT payload issued to hospital staff and patients.
type Claims struct {
	jwt.RegisteredClaims
	Name  string   `json:"name,omitempty"`
	Roles []string `json:"roles"`
}

// TokenVerifier validates HS256 bearer tokens against a shared secret that is
// injected at startup. It is safe for concurrent use.
type TokenVerifier struct {
	secret []byte
	issuer string
	leeway time.Duration
	now    func() time.Time
}

// NewTokenVerifier creates a verifier for the given secret. issuer may be
// empty, in which case the iss claim is not checked.
func NewTokenVerifier(secret []byte, issuer string) *TokenVerifier {
	return &TokenVerifier{
		secret: secret,
		issuer: issuer,
		leeway: 5 * time.Second,
		now:    time.Now,
	}
}

// Verify parses tokenStr, checks signature and expiry, and returns its claims.
// The returned error wraps one of the Err* sentinels above.
func (v *TokenVerifier) Verify(tokenStr string) (*Claims, error) {
	tokenStr = strings.TrimSpace(tokenStr)
	if tokenStr == "" {
		return nil, ErrTokenMissing
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, classifyParseError(err)
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: subject is empty", ErrTokenInvalid)
	}
	return claims, nil
}

// Subject verifies tokenStr and returns only its subject.
func (v *TokenVerifier) Subject(tokenStr string) (string, error) {
	claims, err := v.Verify(tokenStr)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// Issue signs a token for subject with the verifier's secret and issuer.
func (v *TokenVerifier) Issue(subject string, roles []string, ttl time.Duration) (string, error) {
	now := v.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Roles: roles,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrTokenExpired, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	default:
		return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
}

// ErrorCode maps a verification error to the stable code sent to clients.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTokenMissing):
		return CodeTokenMissing
	case errors.Is(err, ErrTokenMalformed):
		return CodeTokenMalformed
	case errors.Is(err, ErrTokenExpired):
		return CodeTokenExpired
	default:
		return CodeTokenInvalid
	}
}
