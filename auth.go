package main

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	tokenExpiry    = 30 * 24 * time.Hour
	maxNameLen     = 16
	maxPasswordLen = 72 // bcrypt input limit
)

var errInvalidToken = errors.New("invalid token")

// Auth issues identity tokens and hashes room passwords
type Auth struct {
	secret     []byte
	bcryptCost int
	now        func() time.Time
}

// NewAuth creates an Auth. An empty secret gets a random one, so tokens only
// survive until restart.
func NewAuth(secret string, bcryptCost int) *Auth {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			panic("failed to generate token secret: " + err.Error())
		}
	}
	if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Auth{secret: key, bcryptCost: bcryptCost, now: time.Now}
}

// Identity is who a connection claims to be
type Identity struct {
	Key   string // stable across reconnects while the token is valid
	Name  string
	Token string
}

// Resolve validates token if present and always returns a fresh token. An
// invalid or missing token yields a new key.
func (a *Auth) Resolve(token, name string) (Identity, error) {
	name = CleanName(name)
	key, _, err := a.ValidateToken(token)
	if token == "" || err != nil {
		key = uuid.NewString()
	}
	fresh, err := a.IssueToken(key, name)
	if err != nil {
		return Identity{}, err
	}
	return Identity{Key: key, Name: name, Token: fresh}, nil
}

// IssueToken signs a token for key
func (a *Auth) IssueToken(key, name string) (string, error) {
	now := a.now()
	claims := jwt.MapClaims{
		"sub":  key,
		"name": name,
		"exp":  now.Add(tokenExpiry).Unix(),
		"iat":  now.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken returns the key and name carried by a valid token
func (a *Auth) ValidateToken(tokenStr string) (string, string, error) {
	if tokenStr == "" {
		return "", "", errInvalidToken
	}
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now))
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", errInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", "", errInvalidToken
	}
	key, ok := claims["sub"].(string)
	if !ok || key == "" {
		return "", "", errInvalidToken
	}
	name, _ := claims["name"].(string)
	return key, name, nil
}

// HashPassword hashes a room password
func (a *Auth) HashPassword(password string) ([]byte, error) {
	if len(password) > maxPasswordLen {
		return nil, fmt.Errorf("password longer than %d bytes", maxPasswordLen)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return hash, nil
}

// CheckPassword compares a room password with its hash
func CheckPassword(hash []byte, password string) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
}

// CleanName trims and truncates a display name, generating a guest name when empty
func CleanName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return GenerateGuestName()
	}
	if utf8.RuneCountInString(name) > maxNameLen {
		name = string([]rune(name)[:maxNameLen])
	}
	return name
}

// GenerateGuestName creates a name like "Guest_a3f2c1"
func GenerateGuestName() string {
	return "Guest_" + GenerateID(3)
}
