package store

import "errors"

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNotFound            = errors.New("transaction not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrUserExists          = errors.New("user exists")
	ErrRoleNotFound        = errors.New("role does not exist")
	ErrNotVerified         = errors.New("user not verified")
	ErrConflict            = errors.New("concurrent update conflict")
	ErrBalanceOutOfRange   = errors.New("balance out of range")
)
