package config

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog/log"
)

const (
	jwtSecretFile    = "jwt-secret.key"
	vapidPublicFile  = "vapid-public.key"
	vapidPrivateFile = "vapid-private.key"
	turnSecretFile   = "turn-secret.key"
)

// EnsureSecrets fills in the JWT secret, the TURN secret when the relay is
// enabled, and the VAPID key pair when push is enabled. Missing values are read from the keys directory or generated
// and saved there so they survive restarts.
func (c *Config) EnsureSecrets() error {
	if c.Auth.JWTSecret == "" {
		secret, err := c.loadOrCreate(jwtSecretFile, generateSecret)
		if err != nil {
			return fmt.Errorf("jwt secret: %w", err)
		}
		c.Auth.JWTSecret = secret
	}

	if c.TURN.Enabled && c.TURN.Secret == "" {
		secret, err := c.loadOrCreate(turnSecretFile, generateSecret)
		if err != nil {
			return fmt.Errorf("turn secret: %w", err)
		}
		c.TURN.Secret = secret
	}

	if !c.Push.Enabled || (c.Push.VAPIDPublicKey != "" && c.Push.VAPIDPrivateKey != "") {
		return nil
	}
	pub, errPub := c.readKey(vapidPublicFile)
	priv, errPriv := c.readKey(vapidPrivateFile)
	if errPub == nil && errPriv == nil && pub != "" && priv != "" {
		c.Push.VAPIDPublicKey, c.Push.VAPIDPrivateKey = pub, priv
		return nil
	}

	priv, pub, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return fmt.Errorf("generate vapid keys: %w", err)
	}
	if err := c.writeKey(vapidPublicFile, pub); err != nil {
		log.Warn().Err(err).Msg("VAPID keys will be regenerated on next restart")
	} else if err := c.writeKey(vapidPrivateFile, priv); err != nil {
		log.Warn().Err(err).Msg("VAPID keys will be regenerated on next restart")
	}
	c.Push.VAPIDPublicKey, c.Push.VAPIDPrivateKey = pub, priv
	return nil
}

func (c *Config) loadOrCreate(name string, generate func() (string, error)) (string, error) {
	if value, err := c.readKey(name); err == nil && value != "" {
		return value, nil
	}
	value, err := generate()
	if err != nil {
		return "", err
	}
	if err := c.writeKey(name, value); err != nil {
		log.Warn().Err(err).Str("file", name).Msg("secret will be regenerated on next restart")
	}
	return value, nil
}

func (c *Config) readKey(name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(c.KeysDir, name))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (c *Config) writeKey(name, value string) error {
	if err := os.MkdirAll(c.KeysDir, 0o700); err != nil {
		return fmt.Errorf("create keys directory: %w", err)
	}
	path := filepath.Join(c.KeysDir, name)
	if err := os.WriteFile(path, []byte(value), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	log.Info().Str("file", path).Msg("secret saved")
	return nil
}

func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(buf), nil
}
