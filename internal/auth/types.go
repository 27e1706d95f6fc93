package auth

import (
	"errors"
	"time"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrForbidden          = errors.New("insufficient permissions")
)

// Method is how a request authenticated.
type Method string

const (
	MethodBasic Method = "basic" // username/password
	MethodToken Method = "token" // static admin token
	MethodJWT   Method = "jwt"   // token issued by Login
)

// Role gates the admin API. Viewers may read status; admins may also
// trigger checks, change the interval and edit registrations.
type Role string

const (
	RoleViewer Role = "viewer"
	RoleAdmin  Role = "admin"
)

// User is a configured API account. PasswordHash is a bcrypt hash.
type User struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"`
	Role         Role   `mapstructure:"role"`
}

// Config enables authentication on the admin API.
type Config struct {
	Enabled   bool          `mapstructure:"enabled"`
	Token     string        `mapstructure:"token"`
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
	Users     []User        `mapstructure:"users"`
}

// Result identifies an authenticated caller.
type Result struct {
	Subject string `json:"subject"`
	Role    Role   `json:"role"`
	Method  Method `json:"method"`
}

// Token is a bearer token issued by Login.
type Token struct {
	Type      string    `json:"type"`
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}
