package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ringtalk/internal/logger"
	"ringtalk/internal/models"
)

// ErrUserNotFound covers both an unknown and a malformed identifier; callers
// cannot tell the two apart, matching the observable behavior of the service
// this replaces. The distinction is logged.
var ErrUserNotFound = errors.New("user not found")

// Profile carries the optional fields accepted at user creation. Absent
// fields take the documented defaults; nothing is required.
type Profile struct {
	Username    string
	Email       string
	DNDStart    string
	DNDEnd      string
	DeviceToken *string
}

// Service is the user directory: it creates profiles and resolves ownership
// for the call lifecycle.
type Service struct {
	db  *sql.DB
	log *logger.Logger
}

// NewService builds a directory service on the given store.
func NewService(db *sql.DB, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{db: db, log: log}
}

// CreateUser persists a new profile and returns it with its assigned
// identifier. No username/email format validation happens here.
func (s *Service) CreateUser(ctx context.Context, p Profile) (*models.User, error) {
	user := &models.User{
		ID:          uuid.NewString(),
		Username:    strings.TrimSpace(p.Username),
		Email:       strings.TrimSpace(p.Email),
		DNDStart:    p.DNDStart,
		DNDEnd:      p.DNDEnd,
		DeviceToken: p.DeviceToken,
		CreatedAt:   time.Now().UTC(),
	}
	if user.DNDStart == "" {
		user.DNDStart = models.DefaultDNDStart
	}
	if user.DNDEnd == "" {
		user.DNDEnd = models.DefaultDNDEnd
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, email, dnd_start, dnd_end, device_token, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Username, user.Email, user.DNDStart, user.DNDEnd, user.DeviceToken, user.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	s.log.Info("user created", "user_id", user.ID)
	return user, nil
}

// GetUser resolves an identifier to a profile. Malformed identifiers are
// reported as not found rather than as a distinct error.
func (s *Service) GetUser(ctx context.Context, id string) (*models.User, error) {
	id = strings.TrimSpace(id)
	if _, err := uuid.Parse(id); err != nil {
		s.log.Debug("malformed user id", "user_id", id, "error", err)
		return nil, ErrUserNotFound
	}

	var user models.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, email, dnd_start, dnd_end, device_token, created_at FROM users WHERE id = ?`,
		id,
	).Scan(&user.ID, &user.Username, &user.Email, &user.DNDStart, &user.DNDEnd, &user.DeviceToken, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.log.Debug("unknown user id", "user_id", id)
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}
