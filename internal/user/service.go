package user

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"connect/internal/auth"
)

var (
	ErrInvalidCredentials = errors.New("user: invalid credentials")
	ErrMissingFields      = errors.New("user: missing required fields")
)

const searchLimit = 20

type Service struct {
	repo     Repository
	verifier *auth.Verifier
}

func NewService(repo Repository, verifier *auth.Verifier) *Service {
	return &Service{repo: repo, verifier: verifier}
}

func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*LoginResponse, error) {
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	req.Username = strings.TrimSpace(req.Username)
	if req.Email == "" || req.Username == "" || req.Password == "" {
		return nil, ErrMissingFields
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	u, err := s.repo.Create(ctx, &User{
		Email:    req.Email,
		Username: req.Username,
		Password: string(hashed),
	})
	if err != nil {
		return nil, err
	}
	return s.issueToken(u)
}

func (s *Service) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	u, err := s.repo.GetByEmail(ctx, strings.TrimSpace(strings.ToLower(req.Email)))
	if err != nil {
		// Same answer for unknown email and bad password.
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.issueToken(u)
}

func (s *Service) issueToken(u *User) (*LoginResponse, error) {
	token, err := s.verifier.Sign(auth.Identity{UserID: u.ID, DisplayName: u.Username})
	if err != nil {
		return nil, err
	}
	u.Password = ""
	return &LoginResponse{AccessToken: token, User: u}, nil
}

func (s *Service) Get(ctx context.Context, id int) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

// Search matches a case-insensitive substring against username or email,
// excluding the caller. An empty query returns nothing rather than everyone.
func (s *Service) Search(ctx context.Context, callerID int, query string) ([]User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []User{}, nil
	}
	return s.repo.Search(ctx, query, callerID, searchLimit)
}

func (s *Service) UpdateProfile(ctx context.Context, id int, req *UpdateProfileRequest) (*User, error) {
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		return nil, ErrMissingFields
	}
	if err := s.repo.UpdateProfile(ctx, id, req); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, id)
}

// UpdatePresence writes the derived online flag and last-seen timestamp.
// Only the presence registry calls this.
func (s *Service) UpdatePresence(ctx context.Context, id int, online bool, lastSeen time.Time) error {
	return s.repo.UpdatePresence(ctx, id, online, lastSeen)
}
