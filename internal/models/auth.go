package models

import "time"

type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"fullName"`
	CreatedAt time.Time `json:"createdAt"`
}

func (u User) IsZero() bool {
	return u == User{}
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"fullName"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// AuthResponse is returned by the login and register endpoints. Some servers nest the
// profile under "user", others return the profile fields next to the tokens.
type AuthResponse struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	User         *User     `json:"user,omitempty"`
	ID           int64     `json:"id,omitempty"`
	Email        string    `json:"email,omitempty"`
	FullName     string    `json:"fullName,omitempty"`
	CreatedAt    time.Time `json:"createdAt,omitempty"`
}

func (r AuthResponse) Profile() User {
	if r.User != nil {
		return *r.User
	}
	return User{ID: r.ID, Email: r.Email, FullName: r.FullName, CreatedAt: r.CreatedAt}
}

// RefreshResponse carries the new access token. The refresh token is only set when the server rotates it.
type RefreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// APIError is the error body returned by the backend.
type APIError struct {
	Message string              `json:"message"`
	Code    string              `json:"code,omitempty"`
	Details map[string][]string `json:"details,omitempty"`
}
