package models

import (
	"context"
)

type Encryptor interface {
	Encrypt(value string) (encrypted string, err error)
	Decrypt(value string) (decrypted string, err error)
}

type IDGenerator interface {
	ID() (string, error)
}

type TokenGetter interface {
	// GetToken returns gwerrors.ErrTokenNotFound when nothing is stored under the key
	GetToken(ctx context.Context, key string) (string, error)
}

type TokenSetter interface {
	SetToken(ctx context.Context, key string, value string) error
}

type TokenRemover interface {
	RemoveToken(ctx context.Context, key string) error
}

// TokenRepository represents the interface used to persist the credential
type TokenRepository interface {
	TokenGetter
	TokenSetter
	TokenRemover
}

// AuthAPI is the set of authentication endpoints the credential store talks to
type AuthAPI interface {
	Login(ctx context.Context, req LoginRequest) (AuthResponse, error)
	Register(ctx context.Context, req RegisterRequest) (AuthResponse, error)
	Refresh(ctx context.Context, req RefreshRequest) (RefreshResponse, error)
}
