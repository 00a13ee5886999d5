package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Connection credential failures. Every one refuses the connection before
// any room state is touched.
var (
	ErrMissingCredential = errors.New("auth: credential required")
	ErrInvalidCredential = errors.New("auth: invalid credential")
	ErrExpiredCredential = errors.New("auth: credential expired")
	ErrRevokedCredential = errors.New("auth: credential revoked")
	ErrInactiveUser      = errors.New("auth: user inactive or unknown")

	errMissingVerifierSecret = errors.New("auth: signing secret required")
	errMissingVerifierIssuer = errors.New("auth: issuer required")
	errMissingRevocations    = errors.New("auth: revocation list required")
	errMissingAccounts       = errors.New("auth: account lookup required")
)

// Identity is the resolved owner of an authenticated connection.
type Identity struct {
	UserID      string
	DisplayName string
}

// Account is the directory's view of a user.
type Account struct {
	UserID      string
	DisplayName string
	IsActive    bool
}

// RevocationList reports whether a raw credential has been invalidated by
// the auth service. The coordination store implements it.
type RevocationList interface {
	IsCredentialRevoked(ctx context.Context, credential string) (bool, error)
}

// AccountLookup resolves a credential subject against the user directory.
type AccountLookup interface {
	Account(ctx context.Context, userID string) (Account, bool, error)
}

// ConnectionClaims mirrors the JWT payload issued by the QAA auth service.
type ConnectionClaims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// VerifierConfig describes how connection credentials are validated.
type VerifierConfig struct {
	SigningSecret []byte
	Issuer        string
	Revocations   RevocationList
	Accounts      AccountLookup
	Clock         func() time.Time
}

// Verifier validates HS256 connection credentials: signature, expiry,
// issuer, revocation list, and directory activity.
type Verifier struct {
	signingSecret []byte
	issuer        string
	revocations   RevocationList
	accounts      AccountLookup
	clock         func() time.Time
}

// NewVerifier constructs a Verifier with the provided configuration.
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, errMissingVerifierSecret
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, errMissingVerifierIssuer
	}
	if cfg.Revocations == nil {
		return nil, errMissingRevocations
	}
	if cfg.Accounts == nil {
		return nil, errMissingAccounts
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Verifier{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		revocations:   cfg.Revocations,
		accounts:      cfg.Accounts,
		clock:         clock,
	}, nil
}

// Verify validates the raw credential and resolves the connection identity.
// It has no side effects on failure.
func (v *Verifier) Verify(ctx context.Context, rawCredential string) (Identity, error) {
	credential := strings.TrimSpace(rawCredential)
	if credential == "" {
		return Identity{}, ErrMissingCredential
	}

	claims := &ConnectionClaims{}
	parsed, err := jwt.ParseWithClaims(
		credential,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("%w: unexpected signing algorithm %s", ErrInvalidCredential, t.Method.Alg())
			}
			return v.signingSecret, nil
		},
		jwt.WithTimeFunc(v.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrExpiredCredential
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if parsed == nil || !parsed.Valid {
		return Identity{}, ErrInvalidCredential
	}
	if claims.Issuer != v.issuer {
		return Identity{}, ErrInvalidCredential
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return Identity{}, ErrInvalidCredential
	}

	revoked, err := v.revocations.IsCredentialRevoked(ctx, credential)
	if err != nil {
		return Identity{}, fmt.Errorf("auth: revocation check failed: %w", err)
	}
	if revoked {
		return Identity{}, ErrRevokedCredential
	}

	account, found, err := v.accounts.Account(ctx, subject)
	if err != nil {
		return Identity{}, fmt.Errorf("auth: account lookup failed: %w", err)
	}
	if !found || !account.IsActive {
		return Identity{}, ErrInactiveUser
	}

	displayName := account.DisplayName
	if displayName == "" {
		displayName = strings.TrimSpace(claims.Name)
	}
	return Identity{UserID: account.UserID, DisplayName: displayName}, nil
}
