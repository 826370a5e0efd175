package auth

import (
	"context"
	"crypto/rand"
	"math/big"
)

// CodeSender delivers a verification code to a phone number.
type CodeSender interface {
	SendCode(ctx context.Context, phone string, code int) error
}

type Logger interface {
	Printf(format string, v ...any)
}

// LogSender writes codes to a logger instead of sending an SMS.
type LogSender struct {
	Logger Logger
}

func (s LogSender) SendCode(_ context.Context, phone string, code int) error {
	if s.Logger != nil {
		s.Logger.Printf("verification code for %s: %d", phone, code)
	}
	return nil
}

// NewCode returns a random five-digit code.
func NewCode() (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(90000))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()) + 10000, nil
}
