// Package auth resolves the participant identity of a request from a signed
// JWT. The token subject is the participant id.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/tariel-x/callrelay/internal/models"
)

const participantKey = "participant_id"

var (
	ErrMissingToken = errors.New("authorization token required")
	ErrInvalidToken = errors.New("invalid token")
)

type Authenticator struct {
	secret         []byte
	ttl            time.Duration
	allowAnonymous bool
	nowFn          func() time.Time
}

func New(secret string, ttl time.Duration, allowAnonymous bool) *Authenticator {
	return &Authenticator{
		secret:         []byte(secret),
		ttl:            ttl,
		allowAnonymous: allowAnonymous,
		nowFn:          time.Now,
	}
}

// Issue signs a token for pid. A zero ttl makes a token without expiry.
func (a *Authenticator) Issue(pid models.ParticipantID) (string, error) {
	if pid == "" {
		return "", errors.New("participant id is required")
	}
	now := a.nowFn()
	claims := jwt.RegisteredClaims{
		Subject:  string(pid),
		IssuedAt: jwt.NewNumericDate(now),
	}
	if a.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(a.ttl))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (a *Authenticator) Parse(tokenString string) (models.ParticipantID, error) {
	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.nowFn),
	)
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}
	if claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return models.ParticipantID(claims.Subject), nil
}

// Resolve finds the participant of a request. Browsers cannot set headers
// on a WebSocket upgrade, so the token may also come as ?token=.
func (a *Authenticator) Resolve(r *http.Request) (models.ParticipantID, error) {
	tokenString := strings.TrimSpace(r.Header.Get("Authorization"))
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")
	if tokenString == "" {
		tokenString = r.URL.Query().Get("token")
	}
	if tokenString != "" {
		return a.Parse(tokenString)
	}
	if a.allowAnonymous {
		if pid := r.URL.Query().Get(participantKey); pid != "" {
			return models.ParticipantID(pid), nil
		}
	}
	return "", ErrMissingToken
}

func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		pid, err := a.Resolve(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(participantKey, pid)
		c.Next()
	}
}

// Participant returns the id stored by Middleware.
func Participant(c *gin.Context) models.ParticipantID {
	if v, ok := c.Get(participantKey); ok {
		if pid, ok := v.(models.ParticipantID); ok {
			return pid
		}
	}
	return ""
}
