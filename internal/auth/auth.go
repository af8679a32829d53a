// Package auth issues and verifies session JWTs.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
)

// contextKey is where the middleware stores the parsed token.
const contextKey = "user"

// GenerateToken signs an HS256 token for userID that expires after ttl.
func GenerateToken(userID int64, secret string, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(secret) == "" {
		return "", time.Time{}, errors.New("jwt secret is required")
	}
	if userID <= 0 {
		return "", time.Time{}, errors.New("user id is required")
	}
	if ttl <= 0 {
		return "", time.Time{}, errors.New("jwt ttl must be positive")
	}
	now := time.Now()
	expiresAt := now.Add(ttl)
	sub := strconv.FormatInt(userID, 10)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":     sub,
		"user_id": sub,
		"iat":     now.Unix(),
		"exp":     expiresAt.Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// JWTMiddleware validates bearer tokens on every request the skipper does not exempt.
func JWTMiddleware(secret string, skipper func(c echo.Context) bool) echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		SigningKey:    []byte(secret),
		SigningMethod: echojwt.AlgorithmHS256,
		ContextKey:    contextKey,
		TokenLookup:   "header:Authorization:Bearer ",
		Skipper:       skipper,
		NewClaimsFunc: func(echo.Context) jwt.Claims { return jwt.MapClaims{} },
		ErrorHandler: func(_ echo.Context, err error) error {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid or missing token").SetInternal(err)
		},
	})
}

// UserIDFromContext returns the user id of the request's verified token.
func UserIDFromContext(c echo.Context) (int64, error) {
	token, ok := c.Get(contextKey).(*jwt.Token)
	if !ok || token == nil {
		return 0, echo.NewHTTPError(http.StatusUnauthorized, "user not authenticated")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, echo.NewHTTPError(http.StatusUnauthorized, "invalid token claims")
	}
	raw, _ := claims["user_id"].(string)
	if raw == "" {
		raw, _ = claims["sub"].(string)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusUnauthorized, "invalid user id in token")
	}
	return id, nil
}
