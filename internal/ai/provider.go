package ai

import "context"

// Provider is the one-shot text capability used by the pattern reducer, the
// report synthesizer, title derivation and session summaries.
type Provider interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ChatProvider is the conversational capability. previousResponseID is the
// opaque continuation token from the prior call; empty means a fresh-context
// call. The returned state id (possibly empty) continues the chain.
type ChatProvider interface {
	Provider
	ChatWithState(ctx context.Context, instructions, prompt, previousResponseID string) (reply, responseID string, err error)
}
