// Package auth issues and checks bearer tokens, verification-code tokens and
// password hashes.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"accounts.api/internal/access"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrCodeMismatch = errors.New("verification code does not match")
)

type principalClaims struct {
	ID   string      `json:"id"`
	Role access.Role `json:"role"`
	jwt.RegisteredClaims
}

// codeClaims never carry the code itself, only a MAC of it bound to the phone.
type codeClaims struct {
	PhoneNumber string `json:"phoneNumber"`
	CodeMAC     string `json:"codeMac"`
	jwt.RegisteredClaims
}

// Tokens signs and verifies HS256 tokens with a shared secret.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokens(secret string, ttl time.Duration) *Tokens {
	return &Tokens{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue returns a bearer token carrying the principal and its role.
func (t *Tokens) Issue(p access.Principal) (string, error) {
	now := t.now()
	claims := principalClaims{
		ID:   p.ID,
		Role: p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	return t.sign(claims)
}

// Verify parses a bearer token back into the principal it was issued for.
func (t *Tokens) Verify(token string) (access.Principal, error) {
	var claims principalClaims
	if err := t.parse(token, &claims); err != nil {
		return access.Principal{}, err
	}
	if claims.ID == "" || claims.Role.Name == "" {
		return access.Principal{}, ErrInvalidToken
	}
	return access.Principal{ID: claims.ID, Role: claims.Role}, nil
}

// IssueCode returns a short-lived token binding a verification code to a phone
// number. The code can only be checked with VerifyCode, not read back.
func (t *Tokens) IssueCode(phone string, code int, ttl time.Duration) (string, error) {
	now := t.now()
	claims := codeClaims{
		PhoneNumber: phone,
		CodeMAC:     t.codeMAC(phone, code),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return t.sign(claims)
}

// VerifyCode checks that token was issued for code and returns its phone number.
func (t *Tokens) VerifyCode(token string, code int) (string, error) {
	var claims codeClaims
	if err := t.parse(token, &claims); err != nil {
		return "", err
	}
	if claims.PhoneNumber == "" || claims.CodeMAC == "" {
		return "", ErrInvalidToken
	}
	want := t.codeMAC(claims.PhoneNumber, code)
	if !hmac.Equal([]byte(want), []byte(claims.CodeMAC)) {
		return "", ErrCodeMismatch
	}
	return claims.PhoneNumber, nil
}

func (t *Tokens) codeMAC(phone string, code int) string {
	mac := hmac.New(sha256.New, t.secret)
	mac.Write([]byte("code\x00" + phone + "\x00" + strconv.Itoa(code)))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (t *Tokens) sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (t *Tokens) parse(token string, claims jwt.Claims) error {
	_, err := jwt.ParseWithClaims(token, claims, func(tk *jwt.Token) (any, error) {
		if _, ok := tk.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.now), jwt.WithExpirationRequired())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return nil
}
