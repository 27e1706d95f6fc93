package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultTokenTTL = 12 * time.Hour
	issuer          = "twinwatch"
)

// Claims are the JWT claims issued by Login.
type Claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// Service authenticates admin API requests against a static token,
// configured users (HTTP basic) and JWTs it issued itself.
type Service struct {
	cfg   Config
	users map[string]User
	now   func() time.Time
}

// New validates cfg. A disabled config yields a service that admits everyone.
func New(cfg Config) (*Service, error) {
	s := &Service{cfg: cfg, users: make(map[string]User, len(cfg.Users)), now: time.Now}
	if s.cfg.TokenTTL <= 0 {
		s.cfg.TokenTTL = defaultTokenTTL
	}
	for _, u := range cfg.Users {
		if u.Username == "" || u.PasswordHash == "" {
			return nil, errors.New("auth user requires username and password_hash")
		}
		switch u.Role {
		case "":
			u.Role = RoleViewer
		case RoleViewer, RoleAdmin:
		default:
			return nil, fmt.Errorf("auth user %s: unknown role %q", u.Username, u.Role)
		}
		s.users[u.Username] = u
	}
	if cfg.Enabled && cfg.Token == "" && len(s.users) == 0 {
		return nil, errors.New("auth enabled but neither token nor users configured")
	}
	return s, nil
}

// Enabled reports whether requests must authenticate.
func (s *Service) Enabled() bool { return s != nil && s.cfg.Enabled }

// Authenticate checks the Authorization header of r.
func (s *Service) Authenticate(r *http.Request) (*Result, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, value, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "bearer") {
			return s.bearer(strings.TrimSpace(value))
		}
	}
	if username, password, ok := r.BasicAuth(); ok {
		u, err := s.checkPassword(username, password)
		if err != nil {
			return nil, err
		}
		return &Result{Subject: u.Username, Role: u.Role, Method: MethodBasic}, nil
	}
	return nil, ErrInvalidCredentials
}

// ErrNoSecret is returned by Login when no jwt_secret is configured.
var ErrNoSecret = errors.New("token issuing disabled: jwt_secret not set")

// Login verifies a user's password and issues a signed token.
func (s *Service) Login(username, password string) (*Token, error) {
	if s.cfg.JWTSecret == "" {
		return nil, ErrNoSecret
	}
	u, err := s.checkPassword(username, password)
	if err != nil {
		return nil, err
	}
	now := s.now()
	expiresAt := now.Add(s.cfg.TokenTTL)
	claims := Claims{
		Role: u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   u.Username,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &Token{Type: "Bearer", Value: signed, ExpiresAt: expiresAt}, nil
}

// HashPassword returns a bcrypt hash suitable for User.PasswordHash.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

// Allows reports whether role may perform a mutating call when write is set.
func Allows(role Role, write bool) bool {
	if !write {
		return role == RoleViewer || role == RoleAdmin
	}
	return role == RoleAdmin
}

func (s *Service) bearer(token string) (*Result, error) {
	if s.cfg.Token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Token)) == 1 {
		return &Result{Subject: "token", Role: RoleAdmin, Method: MethodToken}, nil
	}
	if s.cfg.JWTSecret == "" {
		return nil, ErrInvalidCredentials
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if _, ok := s.users[claims.Subject]; !ok {
		return nil, ErrInvalidCredentials
	}
	return &Result{Subject: claims.Subject, Role: claims.Role, Method: MethodJWT}, nil
}

func (s *Service) checkPassword(username, password string) (User, error) {
	u, ok := s.users[username]
	if !ok {
		return User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	return u, nil
}
