package common

import "errors"

// Error taxonomy shared by the chat, insight and report services.
var (
	// ErrNotFound means the referenced session (or other owned record) does
	// not exist for the requesting user. Surfaced as a 4xx, never retried.
	ErrNotFound = errors.New("not found")

	// ErrProviderFailure means the external model capability errored, timed
	// out, or returned nothing usable. Conversational callers surface a
	// generic failure; advisory callers degrade to placeholders.
	ErrProviderFailure = errors.New("provider failure")

	// ErrMalformedOutput means the capability replied but its text could not
	// be parsed into the expected structure. A ProviderFailure variant.
	ErrMalformedOutput = errors.New("malformed capability output")
)
