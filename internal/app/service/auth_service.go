package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"codeloom/internal/common"
	"codeloom/internal/common/security"
	"codeloom/internal/domain/model"
	"codeloom/internal/domain/repository"

	"github.com/google/uuid"
)

type AuthService struct {
	userRepo       repository.UserRepository
	submissionRepo repository.SubmissionRepository
}

func NewAuthService(userRepo repository.UserRepository, submissionRepo repository.SubmissionRepository) *AuthService {
	return &AuthService{userRepo: userRepo, submissionRepo: submissionRepo}
}

type SignupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	LoginField string `json:"login_field"` // Can be username or email
	Password   string `json:"password"`
}

type AuthResponse struct {
	User  *model.User `json:"user"`
	Token string      `json:"token"`

	// Topics the user has passed; the client paints the checklist
	// from this on login without probing every topic.
	CompletedTopics int `json:"completed_topics"`
}

func (s *AuthService) Signup(ctx context.Context, req SignupRequest) (*AuthResponse, error) {
	if req.Username == "" || req.Email == "" || req.Password == "" {
		return nil, common.ErrBadRequest
	}

	hashedPassword, err := security.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &model.User{
		ID:             uuid.NewString(),
		Username:       req.Username,
		Email:          req.Email,
		HashedPassword: hashedPassword,
		Role:           model.RoleUser, // Default role
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		// Repo might return common.ErrConflict
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	token, err := security.GenerateToken(user.ID, user.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}
	user.HashedPassword = "" // Clear password before returning
	return &AuthResponse{User: user, Token: token}, nil
}

func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	if req.LoginField == "" || req.Password == "" {
		return nil, common.ErrBadRequest
	}

	var user *model.User
	var err error

	// Try finding by email first, then by username
	user, err = s.userRepo.FindByEmail(ctx, req.LoginField)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			user, err = s.userRepo.FindByUsername(ctx, req.LoginField)
		}
	}

	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.ErrUnauthorized // Generic message for security
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	if !security.CheckPasswordHash(req.Password, user.HashedPassword) {
		return nil, common.ErrUnauthorized
	}

	token, err := security.GenerateToken(user.ID, user.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	completed, err := s.submissionRepo.CountCompletedTopics(ctx, user.ID)
	if err != nil {
		// Progress is decoration on the login response; log and move on.
		log.Printf("WARN: Failed to count completed topics for user %s: %v", user.ID, err)
	}

	user.HashedPassword = ""
	return &AuthResponse{User: user, Token: token, CompletedTopics: completed}, nil
}
