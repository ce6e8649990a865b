package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/oralvis/apiserver/internal/store"
	"github.com/oralvis/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (types.User, error)
	InsertIfAbsent(ctx context.Context, user types.User) (bool, error)
}

// TokenIssuer mints session tokens for verified identities.
type TokenIssuer interface {
	Issue(identity types.Identity) (string, error)
}

// LoginResult is returned by a successful Authenticate.
type LoginResult struct {
	Token string           `json:"token"`
	User  types.PublicUser `json:"user"`
}

// SeedAccount is one of the fixed accounts created at initialization.
type SeedAccount struct {
	Email    string
	Password string
	Name     string
	Role     types.Role
}

// UserService verifies credentials, issues session tokens and seeds the
// fixed accounts.
type UserService struct {
	repo      UserRepository
	tokens    TokenIssuer
	hashCost  int
	dummyOnce sync.Once
	dummyHash []byte
}

func NewUserService(repo UserRepository, tokens TokenIssuer) *UserService {
	return &UserService{
		repo:     repo,
		tokens:   tokens,
		hashCost: bcrypt.DefaultCost,
	}
}

// Authenticate checks the email/password pair and returns a signed token
// with the redacted user. An unknown email and a wrong password produce
// the same ErrInvalidCredentials. The email is matched exactly as stored.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (LoginResult, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return LoginResult{}, ErrMissingCredentials
	}

	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Spend the same bcrypt work as a real comparison.
			_ = bcrypt.CompareHashAndPassword(s.dummy(), []byte(password))
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, fmt.Errorf("lookup user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(types.Identity{ID: user.ID, Role: user.Role, Name: user.Name})
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue token: %w", err)
	}

	return LoginResult{Token: token, User: user.Public()}, nil
}

// Seed inserts each account unless its email is already taken. It is safe
// to run on every startup and returns the number of accounts created.
func (s *UserService) Seed(ctx context.Context, accounts []SeedAccount) (int, error) {
	created := 0
	for _, account := range accounts {
		if strings.TrimSpace(account.Email) == "" || account.Password == "" {
			return created, fmt.Errorf("seed account %q: email and password required", account.Name)
		}
		if !account.Role.Valid() {
			return created, fmt.Errorf("seed account %q: unknown role %q", account.Email, account.Role)
		}

		hashed, err := bcrypt.GenerateFromPassword([]byte(account.Password), s.hashCost)
		if err != nil {
			return created, fmt.Errorf("hash password for %s: %w", account.Email, err)
		}

		inserted, err := s.repo.InsertIfAbsent(ctx, types.User{
			Email:        account.Email,
			Name:         account.Name,
			Role:         account.Role,
			PasswordHash: string(hashed),
		})
		if err != nil {
			return created, fmt.Errorf("seed %s: %w", account.Email, err)
		}
		if inserted {
			created++
		}
	}
	return created, nil
}

func (s *UserService) dummy() []byte {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("oralvis-dummy-password"), s.hashCost)
	})
	return s.dummyHash
}
