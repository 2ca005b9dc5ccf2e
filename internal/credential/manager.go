// Package credential owns the GitHub App assertion: a short-lived RS256 JWT
// that proves the app's identity and is exchanged for per-installation
// access tokens by the forge adapter.
package credential

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/hookbot/hookbot/internal/telemetry"
)

const (
	// AssertionLifetime is the maximum GitHub accepts for app JWTs.
	AssertionLifetime = 10 * time.Minute
	// RenewalMargin is the remaining validity at which a renewal is forced.
	RenewalMargin = 30 * time.Second
	// DefaultCadence is how often the background loop checks freshness.
	DefaultCadence = 60 * time.Second

	issuedAtBackdate = 60 * time.Second
)

var ErrNoAssertion = errors.New("no app assertion available")

// Credential is one signed assertion and its validity window.
type Credential struct {
	Assertion string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Remaining reports how long the assertion stays valid after now.
func (c Credential) Remaining(now time.Time) time.Duration {
	return c.ExpiresAt.Sub(now)
}

// Manager holds the process-wide assertion. Readers load it lock-free;
// renewals are serialized so concurrent callers never sign twice for the
// same window. A replaced assertion stays valid until its own expiry, so
// calls already holding it are unaffected.
type Manager struct {
	appID   int64
	key     *rsa.PrivateKey
	logger  *slog.Logger
	cadence time.Duration

	now  func() time.Time
	sign func(now time.Time) (string, error)

	renewMu sync.Mutex
	current atomic.Pointer[Credential]
}

// LoadManager reads a PEM private key from keyPath.
func LoadManager(appID int64, keyPath string, logger *slog.Logger) (*Manager, error) {
	raw, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	return NewManager(appID, raw, logger)
}

func NewManager(appID int64, keyPEM []byte, logger *slog.Logger) (*Manager, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in private key")
	}
	key, err := parseRSAPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		appID:   appID,
		key:     key,
		logger:  logger,
		cadence: DefaultCadence,
		now:     time.Now,
	}
	m.sign = m.signRS256
	return m, nil
}

// SetCadence overrides the background check interval.
func (m *Manager) SetCadence(d time.Duration) {
	if d > 0 {
		m.cadence = d
	}
}

func parseRSAPrivateKey(der []byte) (*rsa.PrivateKey, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}

	pkcs8Key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := pkcs8Key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not RSA")
	}
	return rsaKey, nil
}

// SECURITY: RS256 per the GitHub App spec. iat is backdated to tolerate
// clock drift between us and GitHub.
func (m *Manager) signRS256(now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:    strconv.FormatInt(m.appID, 10),
		IssuedAt:  jwt.NewNumericDate(now.Add(-issuedAtBackdate)),
		ExpiresAt: jwt.NewNumericDate(now.Add(AssertionLifetime)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return token.SignedString(m.key)
}

// Current returns the assertion currently in use.
func (m *Manager) Current() (Credential, error) {
	c := m.current.Load()
	if c == nil {
		return Credential{}, ErrNoAssertion
	}
	return *c, nil
}

// EnsureFresh renews the assertion when it is missing or has RenewalMargin
// or less left. It is a no-op otherwise.
func (m *Manager) EnsureFresh() error {
	if m.fresh() {
		return nil
	}

	m.renewMu.Lock()
	defer m.renewMu.Unlock()
	if m.fresh() {
		return nil
	}
	return m.renew()
}

func (m *Manager) fresh() bool {
	c := m.current.Load()
	return c != nil && c.Remaining(m.now()) > RenewalMargin
}

// Must be called with renewMu held.
func (m *Manager) renew() error {
	now := m.now()
	assertion, err := m.sign(now)
	if err != nil {
		telemetry.IncCredentialRenewal("failure")
		return fmt.Errorf("sign app assertion: %w", err)
	}
	m.current.Store(&Credential{
		Assertion: assertion,
		IssuedAt:  now,
		ExpiresAt: now.Add(AssertionLifetime),
	})
	telemetry.IncCredentialRenewal("success")
	return nil
}

// Assertion returns a signed assertion for an outbound call. A failed
// renewal falls back to the previous assertion while it is still valid.
func (m *Manager) Assertion() (string, error) {
	renewErr := m.EnsureFresh()
	c := m.current.Load()
	if c == nil || !m.now().Before(c.ExpiresAt) {
		if renewErr != nil {
			return "", renewErr
		}
		return "", ErrNoAssertion
	}
	if renewErr != nil {
		m.logger.Warn("assertion renewal failed, using previous assertion",
			"expires_at", c.ExpiresAt,
			"err", renewErr,
		)
	}
	return c.Assertion, nil
}

// Run keeps the assertion fresh until ctx is cancelled. It wakes on the
// cadence or just before the renewal margin, whichever comes first.
// Failures are logged and retried on the next cadence tick.
func (m *Manager) Run(ctx context.Context) error {
	m.check()
	for {
		timer := time.NewTimer(m.nextCheck())
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			m.check()
		}
	}
}

func (m *Manager) check() {
	if err := m.EnsureFresh(); err != nil {
		m.logger.Error("app assertion renewal failed", "err", err)
	}
}

func (m *Manager) nextCheck() time.Duration {
	wait := m.cadence
	c := m.current.Load()
	if c == nil {
		return wait
	}
	untilMargin := c.ExpiresAt.Add(-RenewalMargin).Sub(m.now())
	if untilMargin > 0 && untilMargin < wait {
		wait = untilMargin
	}
	return wait
}
