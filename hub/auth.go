package hub

import (
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

const RoleAdmin = "admin"

var (
	ErrSecretMissing = errors.New("jwt secret is not set")
	ErrInvalidToken  = errors.New("invalid token")
)

type Claims struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Identity is who a peer speaks as. Guests have no UserID.
type Identity struct {
	UserID   *uint
	Username string
	Avatar   string
	Role     string
}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// key collapses several connections of one person into one roster entry.
func (i Identity) key() string {
	if i.UserID != nil {
		return fmt.Sprintf("user_%d", *i.UserID)
	}
	return "anonymous_" + i.Username
}

func IssueToken(secret []byte, userID uint, username, role string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", ErrSecretMissing
	}

	now := time.Now()
	claims := &Claims{
		UserID:   userID,
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// invalidTokenError matches ErrInvalidToken and unwraps to the jwt error, so
// callers can still tell an expired token from a forged one.
type invalidTokenError struct {
	err error
}

func (e *invalidTokenError) Error() string {
	return ErrInvalidToken.Error() + ": " + e.err.Error()
}

func (e *invalidTokenError) Is(target error) bool { return target == ErrInvalidToken }

func (e *invalidTokenError) Unwrap() error { return e.err }

func ParseToken(secret []byte, tokenStr string) (*Claims, error) {
	if len(secret) == 0 {
		return nil, ErrSecretMissing
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return secret, nil
	})
	if err != nil {
		return nil, &invalidTokenError{err: err}
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func bearerToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

func guestName() string {
	return fmt.Sprintf("guest%04d", rand.Intn(10000))
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
