package ai

import (
	"context"
	"strings"

	"ringtalk/internal/models"
)

// openingLines keyed by scenario label. Anything else gets the generic line.
var openingLines = map[string]string{
	"General":       "Hey, good to hear from you! How has your day been so far?",
	"Emergency":     "911, what's your emergency? Please tell me what's happening.",
	"Job Interview": "Thanks for coming in today. To start, could you tell me a little about yourself?",
	"Restaurant":    "Welcome in! Table for one? Can I get you something to drink while you look at the menu?",
}

const genericOpening = "Hi there, thanks for picking up! Ready to practice? Tell me what's on your mind."

// CannedGenerator returns fixed practice lines. It is wired when no provider
// credential is configured, so the service keeps working end to end without
// an AI backend.
type CannedGenerator struct{}

func NewCannedGenerator() *CannedGenerator {
	return &CannedGenerator{}
}

func (g *CannedGenerator) OpeningLine(_ context.Context, scenario string) (string, error) {
	if line, ok := openingLines[scenario]; ok {
		return line, nil
	}
	return genericOpening, nil
}

var cannedReplies = []string{
	"That makes sense. Can you tell me a bit more?",
	"Got it. And how did that make you feel?",
	"Interesting! What happened next?",
	"Nice, you're doing well. What else?",
}

func (g *CannedGenerator) Reply(_ context.Context, _ string, history []models.Turn, userText string) (string, error) {
	if strings.TrimSpace(userText) == "" {
		return "Sorry, I didn't catch that. Could you say it again?", nil
	}
	return cannedReplies[len(history)%len(cannedReplies)], nil
}
