package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"freelancedao/fault"
)

var (
	// ErrInvalidCredentials signals wrong account or password.
	ErrInvalidCredentials = fault.New(fault.Authorization, "identity: invalid credentials")
	// ErrWeakPassword signals password doesn't meet requirements.
	ErrWeakPassword = fault.New(fault.Invalid, "identity: password must be at least 8 characters")
	// ErrInvalidRole signals an unknown role on registration.
	ErrInvalidRole = fault.New(fault.Invalid, "identity: invalid role")
	// ErrInvalidToken signals a bearer token that failed verification.
	ErrInvalidToken = fault.New(fault.Authorization, "identity: invalid token")
)

// Service is the registry consumed by the job lifecycle plus the login flow
// that turns an account into an API bearer token.
type Service struct {
	repo      Repository
	jwtSecret []byte
	tokenTTL  time.Duration
	now       func() time.Time
}

// LoginResult bundles the token and account returned after a successful login.
type LoginResult struct {
	Token   string
	Account Account
}

// NewService creates a new registry service.
func NewService(repo Repository, jwtSecret string, tokenTTL time.Duration) *Service {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &Service{
		repo:      repo,
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
		now:       time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Register creates an unverified account.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (Account, error) {
	if len(req.Password) < 8 {
		return Account{}, ErrWeakPassword
	}
	address, err := ParseAccount(req.Account)
	if err != nil {
		return Account{}, err
	}
	role := Role(strings.ToLower(strings.TrimSpace(string(req.Role))))
	if !isValidRole(role) {
		return Account{}, fmt.Errorf("%w %q", ErrInvalidRole, req.Role)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return Account{}, fmt.Errorf("identity: hash password: %w", err)
	}

	return s.repo.CreateAccount(ctx, CreateAccountParams{
		Address:      address,
		PasswordHash: string(hash),
		Role:         role,
	})
}

// Login authenticates an account and returns a signed token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	address, err := ParseAccount(req.Account)
	if err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}
	acct, err := s.repo.GetAccount(ctx, address)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(req.Password)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	token, err := s.generateToken(acct.Address, acct.Role)
	if err != nil {
		return LoginResult{}, fmt.Errorf("identity: generate token: %w", err)
	}
	return LoginResult{Token: token, Account: acct}, nil
}

// Resolve answers the registry query for account. An unknown account resolves
// to an empty, unverified identity rather than an error.
func (s *Service) Resolve(ctx context.Context, account string) (Identity, error) {
	acct, err := s.repo.GetAccount(ctx, account)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return Identity{Account: account}, nil
		}
		return Identity{}, err
	}
	return Identity{Account: acct.Address, Role: acct.Role, Verified: acct.Verified}, nil
}

// SetVerified records the credential issuer's verdict.
func (s *Service) SetVerified(ctx context.Context, account string, verified bool) (Account, error) {
	address, err := ParseAccount(account)
	if err != nil {
		return Account{}, err
	}
	return s.repo.SetVerified(ctx, address, verified)
}

// VerifyToken validates a bearer token and returns the account and role it carries.
func (s *Service) VerifyToken(tokenString string) (string, Role, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", "", ErrInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", "", ErrInvalidToken
	}
	roleStr, ok := claims["role"].(string)
	if !ok || !isValidRole(Role(roleStr)) {
		return "", "", ErrInvalidToken
	}
	return sub, Role(roleStr), nil
}

func (s *Service) generateToken(account string, role Role) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"sub":  account,
		"role": string(role),
		"exp":  now.Add(s.tokenTTL).Unix(),
		"iat":  now.Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
}

func isValidRole(role Role) bool {
	switch role {
	case RoleEmployer, RoleFreelancer:
		return true
	default:
		return false
	}
}
