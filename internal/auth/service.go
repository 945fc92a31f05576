package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/dyike/DFUChat/internal/api"
	"github.com/dyike/DFUChat/internal/logger"
)

const module = "auth"

// Backend is the slice of the API client the auth service needs.
type Backend interface {
	Login(ctx context.Context, email, password string) (api.Login, error)
	Register(ctx context.Context, name, email, password string) (string, error)
	Me(ctx context.Context) (api.User, error)
}

// Service is the credential collaborator: it signs in and out and keeps the
// resolver in step with the stored token.
type Service struct {
	backend  Backend
	creds    *Credentials
	resolver *Resolver
	profiles *cache.Cache
	log      logger.Logger
}

func NewService(backend Backend, creds *Credentials, resolver *Resolver, log logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		backend:  backend,
		creds:    creds,
		resolver: resolver,
		profiles: cache.New(5*time.Minute, 10*time.Minute),
		log:      log,
	}
}

func (s *Service) Login(ctx context.Context, email, password string) (api.User, error) {
	res, err := s.backend.Login(ctx, email, password)
	if err != nil {
		return api.User{}, fmt.Errorf("login: %w", err)
	}
	if res.AccessToken == "" {
		return api.User{}, errors.New("login: backend returned no access token")
	}

	user := res.User
	if err := s.creds.Save(ctx, res.AccessToken, &user); err != nil {
		return api.User{}, fmt.Errorf("save credential: %w", err)
	}
	s.profiles.Set(res.AccessToken, user, cache.DefaultExpiration)

	s.log.Info(module, "signed in", map[string]any{"user_id": user.ID})
	s.resolver.Refresh()
	return user, nil
}

func (s *Service) Register(ctx context.Context, name, email, password string) (string, error) {
	msg, err := s.backend.Register(ctx, name, email, password)
	if err != nil {
		return "", fmt.Errorf("register: %w", err)
	}
	return msg, nil
}

// Logout drops the credential; subscribers of the resolver see the switch
// to the guest regime.
func (s *Service) Logout(ctx context.Context) error {
	if tok := s.creds.Token(); tok != "" {
		s.profiles.Delete(tok)
	}
	err := s.creds.Clear(ctx)
	s.resolver.Refresh()
	if err != nil {
		return fmt.Errorf("clear credential: %w", err)
	}
	s.log.Info(module, "signed out", nil)
	return nil
}

// ForceSignOut is the 401 handler: the backend rejected the credential.
func (s *Service) ForceSignOut() {
	s.log.Warn(module, "credential rejected by backend, signing out", nil)
	_ = s.Logout(context.Background())
}

// Me returns the profile for the held credential, cached per token.
func (s *Service) Me(ctx context.Context) (api.User, error) {
	tok := s.creds.Token()
	if tok == "" {
		return api.User{}, errors.New("not signed in")
	}
	if v, ok := s.profiles.Get(tok); ok {
		return v.(api.User), nil
	}

	user, err := s.backend.Me(ctx)
	if err != nil {
		return api.User{}, fmt.Errorf("load profile: %w", err)
	}
	s.profiles.Set(tok, user, cache.DefaultExpiration)
	return user, nil
}
