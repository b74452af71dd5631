package app

import (
	"context"
	"errors"
	"strings"

	"taskboard/internal/auth"
	"taskboard/internal/rbac"
	"taskboard/internal/store"
	"taskboard/internal/util"
)

// Session is the authenticated caller. ConnID is set when the call arrives
// over a live connection.
type Session struct {
	UserID   string
	Username string
	ConnID   string
}

// Authenticate resolves the caller behind a bearer credential. The user must
// still exist.
func (s *Service) Authenticate(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			return Session{}, unauthenticated("Token expired")
		}
		return Session{}, unauthenticated("Invalid token")
	}
	user, err := s.store.GetUser(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, unauthenticated("Invalid token")
		}
		return Session{}, err
	}
	return Session{UserID: user.ID, Username: user.Username}, nil
}

// IssueToken signs a bearer credential for an existing user.
func (s *Service) IssueToken(ctx context.Context, userID string) (string, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return "", orNotFound(err, "User not found")
	}
	return auth.IssueToken([]byte(s.cfg.JWTSecret), user.ID, user.Username, s.cfg.AccessTTL)
}

type CreateUserInput struct {
	Username string
	Email    string
	Avatar   string
}

// CreateUser registers a user record. Sign-up flows live outside this
// service; the CLI uses this to seed accounts.
func (s *Service) CreateUser(ctx context.Context, input CreateUserInput) (store.User, error) {
	username := strings.TrimSpace(input.Username)
	emailAddr := strings.ToLower(strings.TrimSpace(input.Email))
	if username == "" || len(username) > 50 {
		return store.User{}, validationError("Username must be 1-50 characters", nil)
	}
	if !strings.Contains(emailAddr, "@") {
		return store.User{}, validationError("A valid email is required", nil)
	}
	user := store.User{
		ID:        util.NewID("usr"),
		Username:  username,
		Email:     emailAddr,
		Avatar:    strings.TrimSpace(input.Avatar),
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.InsertUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return store.User{}, conflict("User already exists", nil)
		}
		return store.User{}, err
	}
	return user, nil
}

// authorize checks the caller's role on board against action.
func authorize(board store.Board, userID string, action rbac.Action) error {
	role := rbac.RoleFor(userID, board.OwnerID, board.Members)
	if rbac.Can(role, action) {
		return nil
	}
	if role == rbac.RoleMember && action == rbac.ActionDelete {
		return forbidden("Only the owner can delete this board")
	}
	return forbidden("Access denied")
}
