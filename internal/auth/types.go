package auth

import "github.com/oakbuilders/bid-finder/internal/models"

type SignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token    string          `json:"token"`
	Reviewer models.Reviewer `json:"reviewer"`
}
