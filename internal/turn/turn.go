// Package turn runs an optional embedded TURN relay and hands out
// time-limited credentials for it.
package turn

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pion/turn/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port          int
	Realm         string
	PublicIP      string
	Secret        string
	CredentialTTL time.Duration
}

type Server struct {
	server *turn.Server
	issuer *Issuer
	realm  string
	port   int
	logger zerolog.Logger
}

func Start(cfg Config) (*Server, error) {
	logger := log.With().Str("module", "turn").Logger()

	udpListener, err := net.ListenPacket("udp4", fmt.Sprintf("0.0.0.0:%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("failed to create UDP listener: %w", err)
	}

	relayIP := net.ParseIP(cfg.PublicIP)
	if relayIP == nil {
		relayIP = publicIP(logger)
	}
	if relayIP == nil {
		relayIP = localIP(logger)
	}
	logger.Info().Str("relay_ip", relayIP.String()).Msg("TURN relay address")

	issuer := NewIssuer(cfg.Secret, cfg.CredentialTTL)
	s, err := turn.NewServer(turn.ServerConfig{
		Realm:       cfg.Realm,
		AuthHandler: issuer.authHandler(logger),
		PacketConnConfigs: []turn.PacketConnConfig{
			{
				PacketConn: udpListener,
				RelayAddressGenerator: &turn.RelayAddressGeneratorStatic{
					RelayAddress: relayIP,
					Address:      "0.0.0.0",
				},
			},
		},
	})
	if err != nil {
		_ = udpListener.Close()
		return nil, fmt.Errorf("failed to create TURN server: %w", err)
	}

	logger.Info().Int("port", cfg.Port).Str("realm", cfg.Realm).Msg("TURN server started")
	return &Server{
		server: s,
		issuer: issuer,
		realm:  cfg.Realm,
		port:   cfg.Port,
		logger: logger,
	}, nil
}

func (s *Server) Port() int {
	return s.port
}

func (s *Server) Issuer() *Issuer {
	return s.issuer
}

func (s *Server) Close() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

func (i *Issuer) authHandler(logger zerolog.Logger) turn.AuthHandler {
	return func(username, realm string, srcAddr net.Addr) ([]byte, bool) {
		password, ok := i.Password(username)
		if !ok {
			logger.Debug().Str("src", srcAddr.String()).Msg("TURN auth rejected")
			return nil, false
		}
		return turn.GenerateAuthKey(username, realm, password), true
	}
}

func publicIP(logger zerolog.Logger) net.IP {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("https://api.ipify.org")
	if err != nil {
		logger.Warn().Err(err).Msg("failed to get public IP from ipify.org")
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		logger.Warn().Int("status", resp.StatusCode).Msg("ipify.org returned an error")
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return nil
	}
	return net.ParseIP(strings.TrimSpace(string(body)))
}

func localIP(logger zerolog.Logger) net.IP {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		logger.Warn().Err(err).Msg("failed to determine local IP")
		return net.ParseIP("127.0.0.1")
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP
}
