// Package auth validates the credential presented when a client opens a
// notification connection and turns it into an immutable Identity.
//
// Exactly one extraction strategy is active per deployment: a bearer token in
// the Authorization header, a token in a named cookie, or a token carried in
// the first frame the client sends after the websocket opens.
package auth

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Strategy selects where the credential is read from.
type Strategy string

const (
	StrategyHeader    Strategy = "header"
	StrategyCookie    Strategy = "cookie"
	StrategyHandshake Strategy = "handshake"
)

// DefaultCookieName is the cookie read by the cookie strategy.
const DefaultCookieName = "access_token"

// ParseStrategy validates a configured strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case StrategyHeader, StrategyCookie, StrategyHandshake:
		return st, nil
	}
	return "", fmt.Errorf("unknown auth strategy %q (must be header, cookie or handshake)", s)
}

// Reason classifies an authentication failure for logs and metrics.
type Reason string

const (
	ReasonMissing Reason = "missing-credential"
	ReasonExpired Reason = "expired"
	ReasonInvalid Reason = "invalid"
)

// Error is returned for every rejected credential.
type Error struct {
	Reason Reason
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Message is the client-facing rejection text for the failure class.
func (e *Error) Message() string {
	switch e.Reason {
	case ReasonMissing:
		return "missing authentication token"
	case ReasonExpired:
		return "token has expired"
	default:
		return "invalid authentication token"
	}
}

// ReasonOf returns the failure class of err, or "" if err is not an *Error.
func ReasonOf(err error) Reason {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Reason
	}
	return ""
}

func fail(reason Reason, format string, args ...any) *Error {
	return &Error{Reason: reason, Err: fmt.Errorf(format, args...)}
}

// Identity is the authenticated principal behind one connection. It is
// produced once at handshake time and never mutated.
type Identity struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email,omitempty"`
	Role      string    `json:"role,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Claims is the token payload issued by the login service.
type Claims struct {
	UserID Subject `json:"sub"`
	Email  string  `json:"email,omitempty"`
	Role   string  `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Subject is a user id that accepts both numeric and string "sub" claims.
type Subject string

func (s *Subject) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	switch x := v.(type) {
	case string:
		*s = Subject(x)
	case json.Number:
		*s = Subject(x.String())
	case nil:
		*s = ""
	default:
		return fmt.Errorf("sub claim must be a string or number, got %T", v)
	}
	return nil
}

// MarshalJSON writes integer ids as JSON numbers, everything else as strings.
func (s Subject) MarshalJSON() ([]byte, error) {
	str := string(s)
	if str != "" && strings.Trim(str, "0123456789") == "" && (len(str) == 1 || str[0] != '0') {
		return []byte(str), nil
	}
	return json.Marshal(str)
}

// HandshakeFrame is the first message a client sends under the handshake
// strategy.
type HandshakeFrame struct {
	Token string `json:"token"`
}

// Authenticator validates credentials against the shared signing secret.
type Authenticator struct {
	strategy   Strategy
	secret     []byte
	cookieName string
	now        func() time.Time
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithCookieName overrides the cookie read by the cookie strategy.
func WithCookieName(name string) Option {
	return func(a *Authenticator) {
		if name != "" {
			a.cookieName = name
		}
	}
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) { a.now = now }
}

// New creates an Authenticator. The secret must be non-empty.
func New(secret string, strategy Strategy, opts ...Option) (*Authenticator, error) {
	if secret == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	if _, err := ParseStrategy(string(strategy)); err != nil {
		return nil, err
	}
	a := &Authenticator{
		strategy:   strategy,
		secret:     []byte(secret),
		cookieName: DefaultCookieName,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Strategy returns the active extraction strategy.
func (a *Authenticator) Strategy() Strategy { return a.strategy }

// AuthenticateRequest authenticates an HTTP request. The cookie strategy
// reads the configured cookie; the header and handshake strategies read the
// Authorization header, which lets plain HTTP endpoints authenticate callers
// of a handshake deployment.
func (a *Authenticator) AuthenticateRequest(r *http.Request) (Identity, error) {
	token, err := a.tokenFromRequest(r)
	if err != nil {
		return Identity{}, err
	}
	return a.Validate(token)
}

func (a *Authenticator) tokenFromRequest(r *http.Request) (string, error) {
	if a.strategy == StrategyCookie {
		c, err := r.Cookie(a.cookieName)
		if err != nil || c.Value == "" {
			return "", fail(ReasonMissing, "no %s cookie", a.cookieName)
		}
		return c.Value, nil
	}

	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", fail(ReasonMissing, "no authorization header")
	}
	scheme, token, _ := strings.Cut(header, " ")
	if !strings.EqualFold(scheme, "Bearer") {
		return "", fail(ReasonInvalid, "unsupported authorization scheme %q", scheme)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", fail(ReasonMissing, "empty bearer token")
	}
	return token, nil
}

// AuthenticateHandshake authenticates the first client frame under the
// handshake strategy.
func (a *Authenticator) AuthenticateHandshake(frame []byte) (Identity, error) {
	var hs HandshakeFrame
	if err := json.Unmarshal(frame, &hs); err != nil {
		return Identity{}, fail(ReasonInvalid, "malformed handshake frame: %v", err)
	}
	if strings.TrimSpace(hs.Token) == "" {
		return Identity{}, fail(ReasonMissing, "handshake frame has no token")
	}
	return a.Validate(strings.TrimSpace(hs.Token))
}

// Validate checks the token's signature and expiry and returns its Identity.
func (a *Authenticator) Validate(raw string) (Identity, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return a.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, &Error{Reason: ReasonExpired, Err: err}
		}
		return Identity{}, &Error{Reason: ReasonInvalid, Err: err}
	}
	if claims.UserID == "" {
		return Identity{}, fail(ReasonInvalid, "token has no subject")
	}

	id := Identity{
		UserID: string(claims.UserID),
		Email:  claims.Email,
		Role:   claims.Role,
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}

// Sign issues an HS256 token for claims. It is used by tooling and tests;
// production tokens come from the login service.
func Sign(secret string, claims Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
