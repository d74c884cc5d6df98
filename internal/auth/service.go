package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"social-app/internal/config"
	"social-app/internal/database"
	"social-app/internal/models"
	"social-app/pkg/logger"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = &models.Error{
	Kind:    models.KindAuthentication,
	Code:    "invalid_credentials",
	Message: "invalid credentials",
}

type Service struct {
	db       database.Database
	cfg      *config.Config
	validate *validator.Validate
	now      func() time.Time
}

func NewService(db database.Database, cfg *config.Config) *Service {
	return &Service{
		db:       db,
		cfg:      cfg,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
	}
}

func (s *Service) Register(ctx context.Context, req *models.RegisterRequest) (*models.LoginResponse, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if err := s.validate.Struct(req); err != nil {
		return nil, &models.Error{Kind: models.KindValidation, Code: "invalid_registration", Message: "invalid registration", Err: err}
	}

	user, err := s.db.CreateUser(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	token, err := s.GenerateToken(user)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	return &models.LoginResponse{
		Token: token,
		User:  *user,
	}, nil
}

func (s *Service) Login(ctx context.Context, req *models.LoginRequest) (*models.LoginResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, ErrInvalidCredentials
	}

	user, err := s.db.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if user.IsDeleted {
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if user.IsFrozen {
		return nil, models.ErrAccountFrozen
	}

	token, err := s.GenerateToken(user)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	// Remove sensitive data
	user.PasswordHash = ""

	return &models.LoginResponse{
		Token: token,
		User:  *user,
	}, nil
}

func (s *Service) ValidateToken(tokenString string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.cfg.JWT.Secret), nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// Authenticate resolves a bearer token to the principal it names. The user
// is loaded from the store at call time so standing flags are current.
func (s *Service) Authenticate(ctx context.Context, tokenString string) (models.Principal, error) {
	if strings.TrimSpace(tokenString) == "" {
		return models.Principal{}, models.ErrMissingToken
	}

	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		logger.Debug("token rejected: %v", err)
		return models.Principal{}, models.ErrInvalidToken
	}

	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return models.Principal{}, models.ErrInvalidToken
	}

	user, err := s.db.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			return models.Principal{}, models.ErrPrincipalNotFound
		}
		return models.Principal{}, fmt.Errorf("load principal: %w", err)
	}

	switch {
	case user.IsDeleted:
		return models.Principal{}, models.ErrAccountDeleted
	case user.IsFrozen:
		return models.Principal{}, models.ErrAccountFrozen
	}
	return user.Principal(), nil
}

func (s *Service) GenerateToken(user *models.User) (string, error) {
	return s.GenerateTokenWithTTL(user, s.cfg.JWT.ExpiresIn)
}

func (s *Service) GenerateTokenWithTTL(user *models.User, ttl time.Duration) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"user_id":  user.ID,
		"username": user.Username,
		"role":     string(user.Role),
		"exp":      now.Add(ttl).Unix(),
		"iat":      now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.cfg.JWT.Secret))
}
