package models

import "time"

// DefaultScenario is used when a call is started without one.
const DefaultScenario = "General"

// Session is one practice call: an ordered sequence of turns owned by a user.
// GrammarFeedback stays nil until a feedback pass populates it after the call.
type Session struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	Scenario        string    `json:"scenario"`
	GrammarFeedback *string   `json:"grammar_feedback"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Turn is one exchange inside a session. Index 0 is the AI opening line and
// carries no user text; every later turn pairs a user utterance with a reply.
// Turns are append-only and never mutated after insert.
type Turn struct {
	SessionID string    `json:"session_id"`
	Index     int       `json:"index"`
	UserText  *string   `json:"user_text"`
	AIText    string    `json:"ai_text"`
	CreatedAt time.Time `json:"created_at"`
}
