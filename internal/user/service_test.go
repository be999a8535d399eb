package user

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"connect/internal/auth"
)

type fakeRepo struct {
	users  map[int]*User
	nextID int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{users: map[int]*User{}, nextID: 1}
}

func (f *fakeRepo) Create(ctx context.Context, u *User) (*User, error) {
	for _, existing := range f.users {
		if existing.Email == u.Email {
			return nil, errors.New("duplicate email")
		}
	}
	u.ID = f.nextID
	f.nextID++
	u.LastSeen = time.Now()
	u.CreatedAt = time.Now()
	// Store a copy: the caller keeps mutating its own value (the service
	// scrubs the password before returning it) and the row must not alias it.
	cp := *u
	f.users[cp.ID] = &cp
	return u, nil
}

func (f *fakeRepo) GetByEmail(ctx context.Context, email string) (*User, error) {
	for _, u := range f.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (f *fakeRepo) GetByID(ctx context.Context, id int) (*User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeRepo) Search(ctx context.Context, query string, excludeID, limit int) ([]User, error) {
	var out []User
	for _, u := range f.users {
		if u.ID == excludeID {
			continue
		}
		if strings.Contains(strings.ToLower(u.Username), strings.ToLower(query)) ||
			strings.Contains(strings.ToLower(u.Email), strings.ToLower(query)) {
			out = append(out, *u)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeRepo) UpdateProfile(ctx context.Context, id int, req *UpdateProfileRequest) error {
	u, ok := f.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Username = req.Username
	u.About = req.About
	u.Avatar = req.Avatar
	return nil
}

func (f *fakeRepo) UpdatePresence(ctx context.Context, id int, online bool, lastSeen time.Time) error {
	u, ok := f.users[id]
	if !ok {
		return ErrNotFound
	}
	u.IsOnline = online
	u.LastSeen = lastSeen
	return nil
}

func newTestService() (*Service, *fakeRepo) {
	repo := newFakeRepo()
	return NewService(repo, auth.NewVerifier("test-secret", time.Hour)), repo
}

func register(t *testing.T, s *Service, email, name string) *LoginResponse {
	t.Helper()
	res, err := s.Register(context.Background(), &RegisterRequest{
		Email: email, Username: name, Password: "hunter22",
	})
	if err != nil {
		t.Fatalf("Register(%s): %v", email, err)
	}
	return res
}

func TestRegisterHashesPassword(t *testing.T) {
	s, repo := newTestService()
	register(t, s, "alice@example.com", "alice")

	stored := repo.users[1]
	if stored.Password == "hunter22" {
		t.Fatal("password stored in plaintext")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(stored.Password), []byte("hunter22")); err != nil {
		t.Fatalf("stored hash does not match password: %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	s, _ := newTestService()
	_, err := s.Register(context.Background(), &RegisterRequest{Email: "a@b.c"})
	if !errors.Is(err, ErrMissingFields) {
		t.Fatalf("err = %v, want ErrMissingFields", err)
	}
}

func TestLogin(t *testing.T) {
	s, _ := newTestService()
	register(t, s, "alice@example.com", "alice")

	res, err := s.Login(context.Background(), &LoginRequest{Email: "Alice@Example.com", Password: "hunter22"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.AccessToken == "" {
		t.Error("no access token issued")
	}
	if res.User.Password != "" {
		t.Error("password leaked in login response")
	}

	if _, err := s.Login(context.Background(), &LoginRequest{Email: "alice@example.com", Password: "wrong"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("bad password: err = %v, want ErrInvalidCredentials", err)
	}
	if _, err := s.Login(context.Background(), &LoginRequest{Email: "nobody@example.com", Password: "hunter22"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown email: err = %v, want ErrInvalidCredentials", err)
	}
}

func TestSearchExcludesSelfAndEmptyQuery(t *testing.T) {
	s, _ := newTestService()
	register(t, s, "alice@example.com", "alice")
	register(t, s, "bob@example.com", "bob")
	register(t, s, "alina@example.com", "alina")

	users, err := s.Search(context.Background(), 1, "al")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, u := range users {
		if u.ID == 1 {
			t.Error("search returned the caller")
		}
	}
	if len(users) != 1 || users[0].Username != "alina" {
		t.Errorf("users = %v, want [alina]", users)
	}

	users, err = s.Search(context.Background(), 1, "   ")
	if err != nil {
		t.Fatalf("Search empty: %v", err)
	}
	if len(users) != 0 {
		t.Errorf("empty query returned %d users, want 0", len(users))
	}
}

func TestUpdatePresence(t *testing.T) {
	s, repo := newTestService()
	register(t, s, "alice@example.com", "alice")

	seen := time.Now()
	if err := s.UpdatePresence(context.Background(), 1, true, seen); err != nil {
		t.Fatalf("UpdatePresence: %v", err)
	}
	if !repo.users[1].IsOnline {
		t.Error("user not marked online")
	}
}
