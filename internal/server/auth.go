package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"clockd/internal/storage"
	logx "clockd/pkg/logx"
)

// AuthConfig drives token issuance for the admin API.
//
// AdminUser/AdminPassword form a bootstrap credential honored only while the
// users table is empty; the first successful bootstrap login persists that
// user and retires the config credential.
type AuthConfig struct {
	JWTSecret     string
	TokenTTL      time.Duration
	AdminUser     string
	AdminPassword string
}

type principalKey struct{}

// Principal is the authenticated caller attached to the request context.
type Principal struct {
	UserID   string
	Username string
}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

type authClaims struct {
	jwt.RegisteredClaims
	Username string `json:"username,omitempty"`
}

func (s *Server) issueToken(u storage.UserRecord) (string, time.Time, error) {
	ttl := s.auth.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	expires := time.Now().Add(ttl)
	claims := authClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Username: u.Username,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.auth.JWTSecret))
	return token, expires, err
}

func (s *Server) verifyToken(token string) (Principal, error) {
	if strings.TrimSpace(s.auth.JWTSecret) == "" {
		return Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &authClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(s.auth.JWTSecret), nil
	})
	if err != nil {
		return Principal{}, err
	}
	if !parsed.Valid || claims.Subject == "" {
		return Principal{}, errors.New("invalid token")
	}
	return Principal{UserID: claims.Subject, Username: claims.Username}, nil
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// requireAuth guards every route except login.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		principal, err := s.verifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), principal)))
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      userView  `json:"user"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	u, err := s.authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		s.log.Warn("login rejected", logx.String("username", req.Username))
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, expires, err := s.issueToken(u)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token issuance failed")
		return
	}
	writeData(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: expires, User: viewUser(u)})
}

func (s *Server) authenticate(ctx context.Context, username, password string) (storage.UserRecord, error) {
	u, err := s.store.UserByUsername(ctx, username)
	if err == nil {
		if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
			return storage.UserRecord{}, errors.New("password mismatch")
		}
		return u, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return storage.UserRecord{}, err
	}
	return s.bootstrapAdmin(ctx, username, password)
}

// bootstrapAdmin accepts the config credential while no users exist, and
// persists it as the first real user on success.
func (s *Server) bootstrapAdmin(ctx context.Context, username, password string) (storage.UserRecord, error) {
	if s.auth.AdminUser == "" || username != s.auth.AdminUser || password != s.auth.AdminPassword {
		return storage.UserRecord{}, errors.New("unknown user")
	}
	n, err := s.store.CountUsers(ctx)
	if err != nil {
		return storage.UserRecord{}, err
	}
	if n > 0 {
		return storage.UserRecord{}, errors.New("bootstrap credential disabled")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return storage.UserRecord{}, err
	}
	u := storage.UserRecord{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: string(hash),
		DisplayName:  "Administrator",
		CreatedAt:    time.Now(),
	}
	if err := s.store.PutUser(ctx, u); err != nil {
		return storage.UserRecord{}, err
	}
	s.log.Info("bootstrap admin created", logx.String("username", username))
	return u, nil
}
