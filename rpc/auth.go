package rpc

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"jobescrow/crypto"
)

// ScopeAdmin unlocks operator methods such as bank_deposit.
const ScopeAdmin = "admin"

const scopeClaim = "scope"

var (
	errMissingBearer = errors.New("missing bearer token")
	errInvalidToken  = errors.New("invalid token")
)

// AuthConfig configures HMAC bearer token validation.
type AuthConfig struct {
	HMACSecret string
	Issuer     string
	Audience   string
	ClockSkew  time.Duration
}

// Principal is the authenticated caller of a request. Its account is the
// only identity the jobs engine will accept for capability checks.
type Principal struct {
	Account [20]byte
	Subject string
	Scopes  []string
}

// Require implements jobs.Authorizer.
func (p *Principal) Require(account [20]byte) error {
	if p == nil {
		return errors.New("no authenticated caller")
	}
	if p.Account != account {
		return fmt.Errorf("caller %s does not control %s", p.Subject, crypto.FromRaw(account).String())
	}
	return nil
}

func (p *Principal) HasScope(scope string) bool {
	if p == nil {
		return false
	}
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Authenticator validates and issues HS256 bearer tokens whose subject is a
// bech32 account.
type Authenticator struct {
	cfg    AuthConfig
	secret []byte
}

func NewAuthenticator(cfg AuthConfig) (*Authenticator, error) {
	secret := strings.TrimSpace(cfg.HMACSecret)
	if secret == "" {
		return nil, errors.New("rpc: auth secret not configured")
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &Authenticator{cfg: cfg, secret: []byte(secret)}, nil
}

// Authenticate resolves an Authorization header into a principal.
func (a *Authenticator) Authenticate(header string) (*Principal, error) {
	tokenString := extractBearer(header)
	if tokenString == "" {
		return nil, errMissingBearer
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(a.cfg.ClockSkew),
		jwt.WithExpirationRequired(),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	if a.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.cfg.Audience))
	}
	token, err := jwt.Parse(tokenString, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidToken, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errInvalidToken
	}
	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return nil, fmt.Errorf("%w: subject required", errInvalidToken)
	}
	account, err := crypto.ParseAccount(subject)
	if err != nil {
		return nil, fmt.Errorf("%w: subject: %v", errInvalidToken, err)
	}
	return &Principal{Account: account, Subject: subject, Scopes: extractScopes(claims)}, nil
}

// Issue signs a token for account valid for ttl.
func (a *Authenticator) Issue(account [20]byte, scopes []string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": crypto.FromRaw(account).String(),
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if a.cfg.Issuer != "" {
		claims["iss"] = a.cfg.Issuer
	}
	if a.cfg.Audience != "" {
		claims["aud"] = a.cfg.Audience
	}
	if len(scopes) > 0 {
		claims[scopeClaim] = strings.Join(scopes, " ")
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func extractBearer(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

func extractScopes(claims jwt.MapClaims) []string {
	switch raw := claims[scopeClaim].(type) {
	case string:
		return strings.Fields(raw)
	case []interface{}:
		out := make([]string, 0, len(raw))
		for _, entry := range raw {
			if s, ok := entry.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
