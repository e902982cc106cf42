package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const adminTokenExpiry = 12 * time.Hour

var errInvalidCredentials = errors.New("invalid credentials")

// AuthService guards the admin views with a single shared password
type AuthService struct {
	passwordHash []byte
	jwtSecret    []byte
	expiry       time.Duration
}

type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type LoginRequest struct {
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// NewAuthService returns nil when admin auth is not configured, which leaves
// the admin views open.
func NewAuthService(cfg AdminConfig) *AuthService {
	if cfg.PasswordHash == "" || cfg.JWTSecret == "" {
		return nil
	}
	return &AuthService{
		passwordHash: []byte(cfg.PasswordHash),
		jwtSecret:    []byte(cfg.JWTSecret),
		expiry:       adminTokenExpiry,
	}
}

func (s *AuthService) Enabled() bool { return s != nil }

// Login checks the password and issues a signed admin token
func (s *AuthService) Login(password string) (*LoginResponse, error) {
	if err := bcrypt.CompareHashAndPassword(s.passwordHash, []byte(password)); err != nil {
		return nil, errInvalidCredentials
	}

	now := time.Now()
	expiresAt := now.Add(s.expiry)
	claims := &AdminClaims{
		Role: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	slog.Info("Admin logged in")
	return &LoginResponse{Token: token, ExpiresAt: expiresAt}, nil
}

// VerifyToken parses and validates an admin token
func (s *AuthService) VerifyToken(token string) (*AdminClaims, error) {
	claims := &AdminClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !parsed.Valid || claims.Role != "admin" {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// Middleware requires a bearer admin token. A nil service lets every request through.
func (s *AuthService) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s == nil {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeMessage(w, http.StatusUnauthorized, "Authentication required")
			return
		}

		if _, err := s.VerifyToken(token); err != nil {
			slog.Warn("Rejected admin token", "error", err)
			writeMessage(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *AuthService) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if s == nil {
		writeMessage(w, http.StatusNotFound, "Admin login is not enabled")
		return
	}

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Password == "" {
		writeMessage(w, http.StatusBadRequest, "Password is required")
		return
	}

	resp, err := s.Login(req.Password)
	if err != nil {
		if errors.Is(err, errInvalidCredentials) {
			slog.Warn("Admin login failed")
			writeMessage(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		slog.Error("Admin login error", "error", err)
		writeMessage(w, http.StatusInternalServerError, "Failed to log in")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
