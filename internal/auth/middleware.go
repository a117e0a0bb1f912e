package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type contextKey string

const ReviewerIDKey contextKey = "reviewer_id"

// Middleware validates the JWT token and adds the reviewer id to the context.
func (s *Service) Middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get("Authorization")
		if authHeader == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "Missing Authorization header")
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid Authorization header format")
		}

		reviewerID, err := s.ParseToken(parts[1])
		if err != nil {
			s.log.Debug("rejected token", zap.Error(err))
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
		}

		c.Set(string(ReviewerIDKey), reviewerID)
		return next(c)
	}
}

// ReviewerIDFromContext returns the id the middleware stored.
func ReviewerIDFromContext(c echo.Context) (uuid.UUID, error) {
	val := c.Get(string(ReviewerIDKey))
	id, ok := val.(uuid.UUID)
	if !ok {
		return uuid.Nil, errors.New("reviewer ID not found in context")
	}
	return id, nil
}
