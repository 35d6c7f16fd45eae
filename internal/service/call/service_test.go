package call

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"

	"ringtalk/internal/config"
	"ringtalk/internal/logger"
	"ringtalk/internal/models"
	"ringtalk/internal/service/directory"
	"ringtalk/internal/service/speech"
	"ringtalk/internal/storage"
)

type fakeGenerator struct {
	opening    string
	openingErr error
	replyErr   error
}

func (g *fakeGenerator) OpeningLine(_ context.Context, scenario string) (string, error) {
	if g.openingErr != nil {
		return "", g.openingErr
	}
	if g.opening != "" {
		return g.opening, nil
	}
	return fmt.Sprintf("Welcome to your %s practice call!", scenario), nil
}

func (g *fakeGenerator) Reply(_ context.Context, _ string, history []models.Turn, userText string) (string, error) {
	if g.replyErr != nil {
		return "", g.replyErr
	}
	return fmt.Sprintf("Reply %d to %q", len(history), userText), nil
}

type failingTranscriber struct{ err error }

func (t failingTranscriber) Transcribe(context.Context, []byte) (string, error) {
	return "", t.err
}

type failingSynthesizer struct{ err error }

func (s failingSynthesizer) Synthesize(context.Context, string) (string, error) {
	return "", s.err
}

type urlSynthesizer struct{ url string }

func (s urlSynthesizer) Synthesize(context.Context, string) (string, error) {
	return s.url, nil
}

type testEnv struct {
	db    *sql.DB
	users *directory.Service
	calls *Service
}

func newTestEnv(t *testing.T, gen *fakeGenerator, stt speech.Transcriber, tts speech.Synthesizer) *testEnv {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if gen == nil {
		gen = &fakeGenerator{}
	}
	if stt == nil {
		stt = speech.StaticTranscriber{Text: "Hello there"}
	}
	if tts == nil {
		tts = speech.NoopSynthesizer{}
	}
	users := directory.NewService(db, logger.NewNop())
	calls := NewService(db, users, gen, stt, tts, nil, 0, logger.NewNop())
	return &testEnv{db: db, users: users, calls: calls}
}

func (e *testEnv) createUser(t *testing.T) string {
	t.Helper()
	user, err := e.users.CreateUser(context.Background(), directory.Profile{})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user.ID
}

func (e *testEnv) countSessions(t *testing.T) int {
	t.Helper()
	var count int
	if err := e.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&count); err != nil {
		t.Fatalf("count sessions: %v", err)
	}
	return count
}

func (e *testEnv) countTurns(t *testing.T, sessionID string) int {
	t.Helper()
	var count int
	if err := e.db.QueryRow(`SELECT COUNT(*) FROM turns WHERE session_id = ?`, sessionID).Scan(&count); err != nil {
		t.Fatalf("count turns: %v", err)
	}
	return count
}

func TestStartCallCreatesSessionWithOpeningTurn(t *testing.T) {
	env := newTestEnv(t, nil, nil, nil)
	userID := env.createUser(t)

	result, err := env.calls.StartCall(context.Background(), userID, "Emergency")
	if err != nil {
		t.Fatalf("start call: %v", err)
	}
	if result.Session.Scenario != "Emergency" {
		t.Fatalf("unexpected scenario %q", result.Session.Scenario)
	}
	if result.OpeningText == "" {
		t.Fatalf("expected non-empty opening text")
	}
	if result.AudioRef != nil {
		t.Fatalf("expected absent audio from noop synthesizer, got %q", *result.AudioRef)
	}

	session, turns, err := env.calls.GetCall(context.Background(), result.Session.ID)
	if err != nil {
		t.Fatalf("get call: %v", err)
	}
	if session.GrammarFeedback != nil {
		t.Fatalf("grammar feedback must start null")
	}
	if len(turns) != 1 {
		t.Fatalf("expected exactly one turn, got %d", len(turns))
	}
	if turns[0].Index != 0 || turns[0].UserText != nil {
		t.Fatalf("opening turn malformed: %+v", turns[0])
	}
	if turns[0].AIText != result.OpeningText {
		t.Fatalf("opening text mismatch: %q vs %q", turns[0].AIText, result.OpeningText)
	}
}

func TestStartCallDefaultsScenario(t *testing.T) {
	env := newTestEnv(t, nil, nil, nil)
	userID := env.createUser(t)

	result, err := env.calls.StartCall(context.Background(), userID, "")
	if err != nil {
		t.Fatalf("start call: %v", err)
	}
	if result.Session.Scenario != models.DefaultScenario {
		t.Fatalf("expected default scenario, got %q", result.Session.Scenario)
	}
}

func TestStartCallUnknownUserWritesNothing(t *testing.T) {
	env := newTestEnv(t, nil, nil, nil)

	for _, id := range []string{uuid.NewString(), "not-a-uuid", ""} {
		if _, err := env.calls.StartCall(context.Background(), id, "General"); !errors.Is(err, directory.ErrUserNotFound) {
			t.Fatalf("id %q: expected ErrUserNotFound, got %v", id, err)
		}
	}
	if count := env.countSessions(t); count != 0 {
		t.Fatalf("expected no sessions after failed starts, got %d", count)
	}
}

func TestStartCallTwiceCreatesTwoSessions(t *testing.T) {
	env := newTestEnv(t, nil, nil, nil)
	userID := env.createUser(t)

	first, err := env.calls.StartCall(context.Background(), userID, "General")
	if err != nil {
		t.Fatalf("first start: %v", err)
	}
	second, err := env.calls.StartCall(context.Background(), userID, "General")
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if first.Session.ID == second.Session.ID {
		t.Fatalf("expected distinct sessions, both %s", first.Session.ID)
	}
	if count := env.countSessions(t); count != 2 {
		t.Fatalf("expected 2 sessions, got %d", count)
	}
}

func TestProcessAudioAppendsGaplessIndices(t *testing.T) {
	env := newTestEnv(t, nil, nil, nil)
	userID := env.createUser(t)

	started, err := env.calls.StartCall(context.Background(), userID, "General")
	if err != nil {
		t.Fatalf("start call: %v", err)
	}

	const exchanges = 5
	for i := 0; i < exchanges; i++ {
		result, err := env.calls.ProcessAudio(context.Background(), started.Session.ID, []byte("pcm"))
		if err != nil {
			t.Fatalf("process audio %d: %v", i, err)
		}
		if result.UserText == "" || result.AIText == "" {
			t.Fatalf("exchange %d missing text: %+v", i, result)
		}
	}

	_, turns, err := env.calls.GetCall(context.Background(), started.Session.ID)
	if err != nil {
		t.Fatalf("get call: %v", err)
	}
	if len(turns) != exchanges+1 {
		t.Fatalf("expected %d turns, got %d", exchanges+1, len(turns))
	}
	for i, turn := range turns {
		if turn.Index != i {
			t.Fatalf("turn %d has index %d", i, turn.Index)
		}
		if i == 0 && turn.UserText != nil {
			t.Fatalf("opening turn carries user text")
		}
		if i > 0 && (turn.UserText == nil || *turn.UserText == "") {
			t.Fatalf("turn %d missing user text", i)
		}
	}
}

func TestProcessAudioConcurrentAppendsStaySerialized(t *testing.T) {
	env := newTestEnv(t, nil, nil, nil)
	userID := env.createUser(t)

	started, err := env.calls.StartCall(context.Background(), userID, "General")
	if err != nil {
		t.Fatalf("start call: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.calls.ProcessAudio(context.Background(), started.Session.ID, []byte("pcm")); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent append failed: %v", err)
	}

	_, turns, err := env.calls.GetCall(context.Background(), started.Session.ID)
	if err != nil {
		t.Fatalf("get call: %v", err)
	}
	if len(turns) != workers+1 {
		t.Fatalf("expected %d turns, got %d", workers+1, len(turns))
	}
	for i, turn := range turns {
		if turn.Index != i {
			t.Fatalf("gap or duplicate at position %d: index %d", i, turn.Index)
		}
	}
}

func TestProcessAudioUnknownSession(t *testing.T) {
	env := newTestEnv(t, nil, nil, nil)

	for _, id := range []string{uuid.NewString(), "garbage"} {
		if _, err := env.calls.ProcessAudio(context.Background(), id, []byte("pcm")); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("id %q: expected ErrSessionNotFound, got %v", id, err)
		}
	}
}

func TestSynthesisFailureDegradesToNoAudio(t *testing.T) {
	env := newTestEnv(t, nil, nil, failingSynthesizer{err: errors.New("tts down")})
	userID := env.createUser(t)

	result, err := env.calls.StartCall(context.Background(), userID, "General")
	if err != nil {
		t.Fatalf("start call must survive synthesis failure: %v", err)
	}
	if result.AudioRef != nil {
		t.Fatalf("expected nil audio ref, got %q", *result.AudioRef)
	}
	if count := env.countTurns(t, result.Session.ID); count != 1 {
		t.Fatalf("opening turn lost: %d turns", count)
	}
}

func TestSynthesizedAudioIsReturned(t *testing.T) {
	env := newTestEnv(t, nil, nil, urlSynthesizer{url: "https://cdn.example/clip.mp3"})
	userID := env.createUser(t)

	result, err := env.calls.StartCall(context.Background(), userID, "General")
	if err != nil {
		t.Fatalf("start call: %v", err)
	}
	if result.AudioRef == nil || *result.AudioRef != "https://cdn.example/clip.mp3" {
		t.Fatalf("unexpected audio ref: %v", result.AudioRef)
	}
}

func TestGenerationFailureFailsTheExchange(t *testing.T) {
	gen := &fakeGenerator{}
	env := newTestEnv(t, gen, nil, nil)
	userID := env.createUser(t)

	started, err := env.calls.StartCall(context.Background(), userID, "General")
	if err != nil {
		t.Fatalf("start call: %v", err)
	}

	gen.replyErr = errors.New("model down")
	if _, err := env.calls.ProcessAudio(context.Background(), started.Session.ID, []byte("pcm")); !errors.Is(err, ErrGeneration) {
		t.Fatalf("expected ErrGeneration, got %v", err)
	}
	// The failed exchange must not have appended anything.
	if count := env.countTurns(t, started.Session.ID); count != 1 {
		t.Fatalf("expected 1 turn after failed exchange, got %d", count)
	}
}

func TestTranscriptionFailureFailsTheExchange(t *testing.T) {
	env := newTestEnv(t, nil, failingTranscriber{err: errors.New("stt down")}, nil)
	userID := env.createUser(t)

	started, err := env.calls.StartCall(context.Background(), userID, "General")
	if err != nil {
		t.Fatalf("start call: %v", err)
	}
	if _, err := env.calls.ProcessAudio(context.Background(), started.Session.ID, []byte("pcm")); !errors.Is(err, ErrTranscription) {
		t.Fatalf("expected ErrTranscription, got %v", err)
	}
	if count := env.countTurns(t, started.Session.ID); count != 1 {
		t.Fatalf("expected 1 turn after failed exchange, got %d", count)
	}
}

func TestTurnRoundTripPreservesFields(t *testing.T) {
	env := newTestEnv(t, nil, speech.StaticTranscriber{Text: "How much is the blue one?"}, nil)
	userID := env.createUser(t)

	started, err := env.calls.StartCall(context.Background(), userID, "Restaurant")
	if err != nil {
		t.Fatalf("start call: %v", err)
	}
	exchange, err := env.calls.ProcessAudio(context.Background(), started.Session.ID, []byte("pcm"))
	if err != nil {
		t.Fatalf("process audio: %v", err)
	}

	_, turns, err := env.calls.GetCall(context.Background(), started.Session.ID)
	if err != nil {
		t.Fatalf("get call: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if turns[0].UserText != nil {
		t.Fatalf("turn 0 user text must stay null")
	}
	if turns[1].UserText == nil || *turns[1].UserText != "How much is the blue one?" {
		t.Fatalf("turn 1 user text lost: %v", turns[1].UserText)
	}
	if turns[1].AIText != exchange.AIText {
		t.Fatalf("ai text mismatch: %q vs %q", turns[1].AIText, exchange.AIText)
	}
	for i, turn := range turns {
		if turn.CreatedAt.IsZero() {
			t.Fatalf("turn %d lost its timestamp", i)
		}
	}
	// StartCall reports the opening turn's timestamp on the session; the
	// read-back value must reproduce it exactly, sub-second included.
	if !turns[0].CreatedAt.Equal(started.Session.UpdatedAt) {
		t.Fatalf("opening turn timestamp changed on read back: %v vs %v",
			turns[0].CreatedAt, started.Session.UpdatedAt)
	}
}

func TestCheckPronunciation(t *testing.T) {
	env := newTestEnv(t, nil, speech.StaticTranscriber{Text: "I've already sent you the confirmation email."}, nil)

	matched, heard, err := env.calls.CheckPronunciation(context.Background(), []byte("pcm"),
		"ive already sent you the confirmation email")
	if err != nil {
		t.Fatalf("check pronunciation: %v", err)
	}
	if !matched {
		t.Fatalf("expected a match, heard %q", heard)
	}

	matched, _, err = env.calls.CheckPronunciation(context.Background(), []byte("pcm"),
		"I already send you the confirmation email.")
	if err != nil {
		t.Fatalf("check pronunciation: %v", err)
	}
	if matched {
		t.Fatalf("expected a mismatch")
	}
}
