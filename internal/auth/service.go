package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"virtualgo/internal/models"
	"virtualgo/internal/session"
)

// Service handles account registration, login, and logout. Issued tokens live
// in the session store; logging in again replaces the previous token, so each
// user holds at most one live session.
type Service struct {
	db       *sql.DB
	sessions *session.Store
}

func NewService(db *sql.DB, sessions *session.Store) *Service {
	return &Service{db: db, sessions: sessions}
}

// Register creates the account and logs it straight in, returning the user and
// its first session token.
func (s *Service) Register(ctx context.Context, username, password, nickname string) (*models.User, string, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, "", errors.New("username is required")
	}
	if len(password) < 4 {
		return nil, "", errors.New("password must be at least 4 characters")
	}
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		nickname = username
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, nickname, password_hash, status, created_at) VALUES (?, ?, ?, 1, ?)`,
		username, nickname, hashPassword(password), now,
	)
	if err != nil {
		return nil, "", errors.New("username already taken")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, "", fmt.Errorf("user id: %w", err)
	}
	user := &models.User{ID: id, Username: username, Nickname: nickname, Status: 1, CreatedAt: now}

	token, err := s.issueToken(ctx, id)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// Login checks the credentials and issues a fresh token, invalidating any
// previous session for the user.
func (s *Service) Login(ctx context.Context, username, password string) (*models.User, string, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, "", errors.New("username and password are required")
	}

	var user models.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, nickname, password_hash, status, created_at FROM users WHERE username = ?`,
		username,
	).Scan(&user.ID, &user.Username, &user.Nickname, &user.PasswordHash, &user.Status, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", errors.New("invalid credentials")
		}
		return nil, "", fmt.Errorf("query user: %w", err)
	}
	if user.PasswordHash != hashPassword(password) {
		return nil, "", errors.New("invalid credentials")
	}
	if user.Status == 0 {
		return nil, "", errors.New("account disabled")
	}

	token, err := s.issueToken(ctx, user.ID)
	if err != nil {
		return nil, "", err
	}
	return &user, token, nil
}

// Logout revokes the user's current session token.
func (s *Service) Logout(ctx context.Context, userID int64) error {
	return s.sessions.Revoke(ctx, userID)
}

// ValidateSession reports whether the token is the user's live session.
func (s *Service) ValidateSession(ctx context.Context, userID int64, token string) (bool, error) {
	return s.sessions.Validate(ctx, userID, token)
}

func (s *Service) issueToken(ctx context.Context, userID int64) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	if err := s.sessions.Issue(ctx, userID, token); err != nil {
		return "", err
	}
	return token, nil
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func hashPassword(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}
