// Package speech holds the external voice collaborators: transcription and
// synthesis are pluggable services, and the shipped implementations are the
// stubs the rest of the system is wired against.
package speech

import "context"

// Transcriber turns recorded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Synthesizer turns text into a playable audio reference. An empty reference
// with a nil error means no audio is available, which callers must tolerate.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (string, error)
}

// StaticTranscriber returns a fixed transcript for any audio. It stands in
// until a real speech-to-text service is wired up.
type StaticTranscriber struct {
	Text string
}

func (t StaticTranscriber) Transcribe(_ context.Context, _ []byte) (string, error) {
	if t.Text == "" {
		return "Hello, can you hear me?", nil
	}
	return t.Text, nil
}

// NoopSynthesizer never produces audio.
type NoopSynthesizer struct{}

func (NoopSynthesizer) Synthesize(_ context.Context, _ string) (string, error) {
	return "", nil
}
