// Package auth logs wallets in by signed challenge and issues the bearer
// tokens that identify callers to the HTTP API.
//
// A challenge is a plain-text message carrying the address, a random nonce,
// an expiry and a server MAC over those lines, so the server keeps no
// per-challenge state. The wallet signs the whole message with
// personal_sign; Login checks the MAC, expiry, nonce reuse and signer, and
// returns an HS256 JWT whose subject is the address.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/alanyoungcy/cricketpools/internal/crypto"
)

// ErrUnauthenticated wraps every login and token failure.
var ErrUnauthenticated = errors.New("unauthenticated")

const (
	challengeTitle = "Cricket Pools sign-in"
	defaultIssuer  = "cricketpools"
)

// Config configures a Service.
type Config struct {
	Secret       []byte
	Issuer       string
	TokenTTL     time.Duration
	ChallengeTTL time.Duration
	Now          func() time.Time
}

// Challenge is handed to the wallet to sign.
type Challenge struct {
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Token is a session token.
type Token struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Service issues challenges and tokens.
type Service struct {
	mac    *crypto.MAC
	key    []byte
	cfg    Config
	nonces *nonceCache
}

// New creates a Service. Secret must be at least crypto.MinSecretLen bytes.
func New(cfg Config) (*Service, error) {
	mac, err := crypto.NewMAC(cfg.Secret, "login-challenge")
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}
	if cfg.Issuer == "" {
		cfg.Issuer = defaultIssuer
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = 5 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		mac:    mac,
		key:    append([]byte(nil), cfg.Secret...),
		cfg:    cfg,
		nonces: newNonceCache(),
	}, nil
}

// NewChallenge returns a fresh challenge for addr.
func (s *Service) NewChallenge(addr common.Address) Challenge {
	expires := s.cfg.Now().Add(s.cfg.ChallengeTTL).UTC().Truncate(time.Second)
	body := strings.Join([]string{
		challengeTitle,
		"Address: " + addr.Hex(),
		"Nonce: " + uuid.NewString(),
		"Expires: " + expires.Format(time.RFC3339),
	}, "\n")
	return Challenge{Message: body + "\nTag: " + s.mac.Sum(body), ExpiresAt: expires}
}

// Login verifies that signature over message was made by addr for an
// unexpired, unused challenge this server issued, and returns a token.
func (s *Service) Login(addr common.Address, message, signature string) (Token, error) {
	nonce, expires, err := s.checkChallenge(addr, message)
	if err != nil {
		return Token{}, err
	}
	if err := crypto.VerifyMessage(addr, []byte(message), signature); err != nil {
		return Token{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	if s.nonces.spend(nonce, expires, s.cfg.Now()) {
		return Token{}, fmt.Errorf("%w: challenge already used", ErrUnauthenticated)
	}
	return s.issue(addr)
}

func (s *Service) checkChallenge(addr common.Address, message string) (string, time.Time, error) {
	fail := func(reason string) (string, time.Time, error) {
		return "", time.Time{}, fmt.Errorf("%w: %s", ErrUnauthenticated, reason)
	}
	lines := strings.Split(message, "\n")
	if len(lines) != 5 || lines[0] != challengeTitle {
		return fail("malformed challenge")
	}
	fields := make(map[string]string, 4)
	for _, line := range lines[1:] {
		k, v, ok := strings.Cut(line, ": ")
		if !ok {
			return fail("malformed challenge")
		}
		fields[k] = v
	}
	body := strings.Join(lines[:4], "\n")
	if !s.mac.Verify(body, fields["Tag"]) {
		return fail("challenge not issued by this server")
	}
	if !common.IsHexAddress(fields["Address"]) || common.HexToAddress(fields["Address"]) != addr {
		return fail("challenge issued for another address")
	}
	expires, err := time.Parse(time.RFC3339, fields["Expires"])
	if err != nil {
		return fail("malformed expiry")
	}
	if !s.cfg.Now().Before(expires) {
		return fail("challenge expired")
	}
	return fields["Nonce"], expires, nil
}

func (s *Service) issue(addr common.Address) (Token, error) {
	now := s.cfg.Now()
	expires := now.Add(s.cfg.TokenTTL)
	claims := jwt.RegisteredClaims{
		Issuer:    s.cfg.Issuer,
		Subject:   addr.Hex(),
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return Token{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return Token{Token: signed, ExpiresAt: expires.UTC().Truncate(time.Second)}, nil
}

// Verify parses a bearer token and returns the caller address.
func (s *Service) Verify(token string) (common.Address, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.cfg.Now),
	)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	if !common.IsHexAddress(claims.Subject) {
		return common.Address{}, fmt.Errorf("%w: bad subject", ErrUnauthenticated)
	}
	return common.HexToAddress(claims.Subject), nil
}
