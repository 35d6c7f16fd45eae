// Package call implements the conversation-session lifecycle: starting a
// practice call, appending turns to it, and reading it back.
package call

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
	"ringtalk/internal/redis"
	"ringtalk/internal/service/ai"
	"ringtalk/internal/service/directory"
	"ringtalk/internal/service/speech"
)

var (
	// ErrSessionNotFound covers unknown and malformed session identifiers.
	ErrSessionNotFound = errors.New("session not found")
	// ErrGeneration marks a failed or timed-out response generation call.
	// The request fails: AI text is required for a usable response.
	ErrGeneration = errors.New("response generation failed")
	// ErrTranscription marks a failed or timed-out transcription call.
	ErrTranscription = errors.New("transcription failed")
)

// Service orchestrates sessions, their turns, and the three external voice
// collaborators. Appends to one session are serialized; everything else runs
// request-to-completion with no shared state beyond the store.
type Service struct {
	db      *sql.DB
	users   *directory.Service
	gen     ai.Generator
	stt     speech.Transcriber
	tts     speech.Synthesizer
	cache   *stateCache
	locks   *sessionLocks
	timeout time.Duration
	log     *logger.Logger
}

// NewService wires the lifecycle manager. cacheClient may be nil; timeout
// bounds each external call and zero disables the bound.
func NewService(db *sql.DB, users *directory.Service, gen ai.Generator, stt speech.Transcriber,
	tts speech.Synthesizer, cacheClient *redis.Client, timeout time.Duration, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{
		db:      db,
		users:   users,
		gen:     gen,
		stt:     stt,
		tts:     tts,
		cache:   newStateCache(cacheClient, log),
		locks:   newSessionLocks(),
		timeout: timeout,
		log:     log,
	}
}

// StartResult is what starting a call returns to the client.
type StartResult struct {
	Session     *models.Session
	OpeningText string
	AudioRef    *string
}

// TurnResult is the outcome of processing one recorded user utterance.
type TurnResult struct {
	UserText string
	AIText   string
	AudioRef *string
}

// StartCall validates the owner, creates a session, and seeds it with the AI
// opening turn. Every invocation creates a fresh session. Nothing is
// persisted when the user cannot be resolved.
func (s *Service) StartCall(ctx context.Context, userID, scenario string) (*StartResult, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	scenario = strings.TrimSpace(scenario)
	if scenario == "" {
		scenario = models.DefaultScenario
	}
	now := time.Now().UTC()
	session := &models.Session{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Scenario:  scenario,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, scenario, grammar_feedback, created_at, updated_at)
		 VALUES (?, ?, ?, NULL, ?, ?)`,
		session.ID, session.UserID, session.Scenario, session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	opening, err := s.openingLine(ctx, scenario)
	if err != nil {
		return nil, err
	}
	turn, err := s.appendTurn(ctx, session.ID, nil, opening)
	if err != nil {
		return nil, err
	}
	session.UpdatedAt = turn.CreatedAt

	audioRef := s.synthesize(ctx, session.ID, opening)

	s.log.Info("call started", "session_id", session.ID, "user_id", user.ID, "scenario", scenario)
	return &StartResult{Session: session, OpeningText: opening, AudioRef: audioRef}, nil
}

// ProcessAudio appends one full exchange to an existing session: transcribe
// the recording, generate the reply from the complete turn history, persist
// the pair as the next turn, and synthesize the reply.
func (s *Service) ProcessAudio(ctx context.Context, sessionID string, audio []byte) (*TurnResult, error) {
	session, turns, err := s.GetCall(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	userText, err := s.transcribe(ctx, session.ID, audio)
	if err != nil {
		return nil, err
	}
	reply, err := s.reply(ctx, session.Scenario, turns, userText)
	if err != nil {
		return nil, err
	}

	turn, err := s.appendTurn(ctx, session.ID, &userText, reply)
	if err != nil {
		return nil, err
	}
	session.UpdatedAt = turn.CreatedAt

	audioRef := s.synthesize(ctx, session.ID, reply)
	return &TurnResult{UserText: userText, AIText: reply, AudioRef: audioRef}, nil
}

// CheckPronunciation transcribes a practice recording and reports whether it
// matches the corrected sentence. Nothing is persisted.
func (s *Service) CheckPronunciation(ctx context.Context, audio []byte, correction string) (bool, string, error) {
	heard, err := s.transcribe(ctx, "", audio)
	if err != nil {
		return false, "", err
	}
	return speech.Match(heard, correction), heard, nil
}

// GetCall returns a session and its turns ordered by index. A cache miss
// repopulates under the session lock, so the write is ordered against the
// invalidate in appendTurn and the cache never holds a history missing a
// committed turn.
func (s *Service) GetCall(ctx context.Context, sessionID string) (*models.Session, []models.Turn, error) {
	if session, turns, ok := s.cache.load(ctx, sessionID); ok {
		return session, turns, nil
	}
	release := s.locks.acquire(sessionID)
	defer release()

	session, err := s.sessionByID(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	turns, err := s.turnsBySession(ctx, session.ID)
	if err != nil {
		return nil, nil, err
	}
	s.cache.store(ctx, session, turns)
	return session, turns, nil
}

func (s *Service) sessionByID(ctx context.Context, sessionID string) (*models.Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if _, err := uuid.Parse(sessionID); err != nil {
		s.log.Debug("malformed session id", "session_id", sessionID, "error", err)
		return nil, ErrSessionNotFound
	}
	var session models.Session
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, scenario, grammar_feedback, created_at, updated_at FROM sessions WHERE id = ?`,
		sessionID,
	).Scan(&session.ID, &session.UserID, &session.Scenario, &session.GrammarFeedback, &session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &session, nil
}

func (s *Service) turnsBySession(ctx context.Context, sessionID string) ([]models.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, turn_index, user_text, ai_text, created_at FROM turns WHERE session_id = ? ORDER BY turn_index ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	var turns []models.Turn
	for rows.Next() {
		var t models.Turn
		if err := rows.Scan(&t.SessionID, &t.Index, &t.UserText, &t.AIText, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// appendTurn inserts the next turn for the session. The per-session lock
// serializes the count-then-insert; the (session_id, turn_index) primary key
// rejects a duplicate index should the store ever see one anyway. The cached
// history is invalidated before the lock is released so no reader can see a
// history missing the new turn past the next read.
func (s *Service) appendTurn(ctx context.Context, sessionID string, userText *string, aiText string) (*models.Turn, error) {
	release := s.locks.acquire(sessionID)
	defer release()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM turns WHERE session_id = ?`, sessionID,
	).Scan(&count); err != nil {
		return nil, fmt.Errorf("count turns: %w", err)
	}

	turn := &models.Turn{
		SessionID: sessionID,
		Index:     count,
		UserText:  userText,
		AIText:    aiText,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO turns (session_id, turn_index, user_text, ai_text, created_at) VALUES (?, ?, ?, ?, ?)`,
		turn.SessionID, turn.Index, turn.UserText, turn.AIText, turn.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("insert turn: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE id = ?`, turn.CreatedAt, sessionID,
	); err != nil {
		return nil, fmt.Errorf("touch session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit turn: %w", err)
	}
	s.cache.invalidate(ctx, sessionID)
	return turn, nil
}

func (s *Service) openingLine(ctx context.Context, scenario string) (string, error) {
	tctx, cancel := s.withTimeout(ctx)
	defer cancel()
	text, err := s.gen.OpeningLine(tctx, scenario)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	return text, nil
}

func (s *Service) reply(ctx context.Context, scenario string, history []models.Turn, userText string) (string, error) {
	tctx, cancel := s.withTimeout(ctx)
	defer cancel()
	text, err := s.gen.Reply(tctx, scenario, history, userText)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	return text, nil
}

func (s *Service) transcribe(ctx context.Context, sessionID string, audio []byte) (string, error) {
	tctx, cancel := s.withTimeout(ctx)
	defer cancel()
	text, err := s.stt.Transcribe(tctx, audio)
	if err != nil {
		s.log.Warn("transcription failed", "session_id", sessionID, "error", err)
		return "", fmt.Errorf("%w: %v", ErrTranscription, err)
	}
	return text, nil
}

// synthesize degrades to no audio on failure: the AI text already carries
// the response, audio is supplementary.
func (s *Service) synthesize(ctx context.Context, sessionID, text string) *string {
	tctx, cancel := s.withTimeout(ctx)
	defer cancel()
	ref, err := s.tts.Synthesize(tctx, text)
	if err != nil {
		s.log.Warn("speech synthesis failed, continuing without audio", "session_id", sessionID, "error", err)
		return nil
	}
	if ref == "" {
		return nil
	}
	return &ref
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}
