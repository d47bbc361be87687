package turn

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tariel-x/callrelay/internal/models"
)

const defaultCredentialTTL = 24 * time.Hour

// Credentials follow the TURN REST scheme: the username carries the expiry
// and the password is an HMAC of the username.
type Credentials struct {
	Username string        `json:"username"`
	Password string        `json:"credential"`
	TTL      time.Duration `json:"-"`
}

type Issuer struct {
	secret []byte
	ttl    time.Duration
	nowFn  func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = defaultCredentialTTL
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, nowFn: time.Now}
}

func (i *Issuer) Issue(pid models.ParticipantID) Credentials {
	expiry := i.nowFn().Add(i.ttl).Unix()
	username := fmt.Sprintf("%d:%s", expiry, pid)
	return Credentials{
		Username: username,
		Password: i.sign(username),
		TTL:      i.ttl,
	}
}

// Password returns the password of a still valid username.
func (i *Issuer) Password(username string) (string, bool) {
	expiryPart, _, ok := strings.Cut(username, ":")
	if !ok {
		return "", false
	}
	expiry, err := strconv.ParseInt(expiryPart, 10, 64)
	if err != nil || i.nowFn().Unix() >= expiry {
		return "", false
	}
	return i.sign(username), true
}

func (i *Issuer) sign(username string) string {
	mac := hmac.New(sha1.New, i.secret)
	mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
