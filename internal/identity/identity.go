package identity

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ErrNotFound is returned when no identity is provisioned.
var ErrNotFound = errors.New("identity not found")

type User struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Repository persists provisioned identities. Upsert assigns an id when
// user.ID is zero and returns the stored record.
type Repository interface {
	LoadAll(ctx context.Context) ([]User, error)
	Upsert(ctx context.Context, user User) (User, error)
}

// Provider resolves the identity acting on the system.
type Provider interface {
	Current(ctx context.Context) (User, error)
}

// Service resolves the current identity from a repository: the user named
// defaultName when present, otherwise the lowest id.
type Service struct {
	repo        Repository
	defaultName string
}

func NewService(repo Repository, defaultName string) *Service {
	return &Service{repo: repo, defaultName: defaultName}
}

func (s *Service) Current(ctx context.Context) (User, error) {
	if s.repo == nil {
		return User{}, ErrNotFound
	}
	users, err := s.repo.LoadAll(ctx)
	if err != nil {
		return User{}, fmt.Errorf("load identities: %w", err)
	}
	if len(users) == 0 {
		return User{}, ErrNotFound
	}
	if s.defaultName != "" {
		for _, u := range users {
			if u.Name == s.defaultName {
				return u, nil
			}
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users[0], nil
}

// Seed provisions the default identity when it is missing. It is a no-op
// without a default name.
func (s *Service) Seed(ctx context.Context) (User, error) {
	if s.repo == nil || s.defaultName == "" {
		return User{}, ErrNotFound
	}
	users, err := s.repo.LoadAll(ctx)
	if err != nil {
		return User{}, fmt.Errorf("load identities: %w", err)
	}
	for _, u := range users {
		if u.Name == s.defaultName {
			return u, nil
		}
	}
	u, err := s.repo.Upsert(ctx, User{Name: s.defaultName})
	if err != nil {
		return User{}, fmt.Errorf("seed identity %q: %w", s.defaultName, err)
	}
	return u, nil
}

// OwnerID returns the current identity's id, or nil when no identity is
// provisioned. Other failures are returned.
func OwnerID(ctx context.Context, p Provider) (*int64, error) {
	if p == nil {
		return nil, nil
	}
	u, err := p.Current(ctx)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	id := u.ID
	return &id, nil
}
