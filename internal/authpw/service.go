// Package authpw provides operator email/password authentication.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"siteeditor/api/internal/rbac"
	"siteeditor/api/internal/store"
	"siteeditor/api/internal/util"
)

const minPasswordLength = 8

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
)

// OperatorStore defines the storage interface for auth
type OperatorStore interface {
	GetOperatorByEmail(ctx context.Context, email string) (store.Operator, error)
	CreateOperator(ctx context.Context, item store.Operator) error
	CountOperators(ctx context.Context) (int, error)
}

// Service provides email/password authentication
type Service struct {
	store OperatorStore
	cost  int
}

func NewService(store OperatorStore) *Service {
	return &Service{store: store, cost: bcrypt.DefaultCost}
}

// WithCost overrides the bcrypt cost.
func (s *Service) WithCost(cost int) *Service {
	s.cost = cost
	return s
}

// CreateRequest contains operator creation parameters
type CreateRequest struct {
	Email       string
	Password    string
	DisplayName string
	Role        string
}

// CreateOperator registers a new operator. An empty role means reviewer.
func (s *Service) CreateOperator(ctx context.Context, req CreateRequest) (store.Operator, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return store.Operator{}, errors.New("email and password are required")
	}
	if len(req.Password) < minPasswordLength {
		return store.Operator{}, fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}

	_, err := s.store.GetOperatorByEmail(ctx, email)
	if err == nil {
		return store.Operator{}, ErrEmailTaken
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.Operator{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return store.Operator{}, fmt.Errorf("hash password: %w", err)
	}

	role := rbac.RoleReviewer
	if req.Role != "" {
		role = rbac.Normalize(req.Role)
	}
	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		displayName = email
	}
	op := store.Operator{
		ID:           util.NewID("op"),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: string(hash),
		Role:         string(role),
	}
	if err := s.store.CreateOperator(ctx, op); err != nil {
		return store.Operator{}, fmt.Errorf("create operator: %w", err)
	}
	return op, nil
}

// SignIn authenticates an operator. Unknown emails and wrong passwords return
// the same error.
func (s *Service) SignIn(ctx context.Context, email, password string) (store.Operator, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return store.Operator{}, ErrInvalidCredentials
	}
	op, err := s.store.GetOperatorByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Operator{}, ErrInvalidCredentials
		}
		return store.Operator{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(password)); err != nil {
		return store.Operator{}, ErrInvalidCredentials
	}
	return op, nil
}

// EnsureBootstrapOperator creates the first admin when no operators exist.
// It reports whether one was created.
func (s *Service) EnsureBootstrapOperator(ctx context.Context, email, password string) (bool, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return false, nil
	}
	count, err := s.store.CountOperators(ctx)
	if err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}
	if _, err := s.CreateOperator(ctx, CreateRequest{
		Email:       email,
		Password:    password,
		DisplayName: "Administrator",
		Role:        string(rbac.RoleAdmin),
	}); err != nil {
		return false, err
	}
	return true, nil
}
