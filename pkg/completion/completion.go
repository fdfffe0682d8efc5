// Package completion defines the Streamer interface over generative text
// backends that produce a companion's replies.
//
// A streamer takes the prior conversation, the new user message, and a
// persona system instruction, and returns a lazy, finite sequence of text
// fragments. Each call establishes a new stream; streams are not restartable.
// Consumers concatenate fragments in delivery order to reconstruct the full
// reply.
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamChat must be closed by the implementation when the stream ends or
// when the supplied context is cancelled.
package completion

import "context"

// Role identifies the author of a history turn.
type Role string

const (
	// RoleUser marks a turn written by the user.
	RoleUser Role = "user"

	// RoleAssistant marks a turn written by the companion.
	RoleAssistant Role = "assistant"
)

// Turn is one prior utterance handed to the backend as history.
type Turn struct {
	Role Role
	Text string
}

// Request carries everything the backend needs to produce a reply.
type Request struct {
	// History is the ordered prior conversation. It must never include the
	// reply currently being generated.
	History []Turn

	// UserText is the new user message driving the reply.
	UserText string

	// SystemInstruction is the persona instruction injected ahead of the
	// conversation.
	SystemInstruction string

	// Temperature controls output randomness. Zero means backend default.
	Temperature float64

	// MaxTokens caps the reply length. Zero means backend default.
	MaxTokens int
}

// Fragment is a single piece of streamed reply text.
//
// A Fragment with a non-nil Err is terminal: it reports a failure that
// occurred after the stream was established, and no further fragments follow.
type Fragment struct {
	Text string
	Err  error
}

// Streamer is the abstraction over any streaming text-completion backend.
//
// StreamChat returns a read-only channel emitting fragments as they arrive.
// The channel is closed when generation finishes, fails, or ctx is cancelled.
// Callers must drain the channel to avoid goroutine leaks. The initial error
// return is non-nil only for failures that prevent the stream from starting;
// later failures arrive as a terminal error Fragment.
type Streamer interface {
	StreamChat(ctx context.Context, req Request) (<-chan Fragment, error)
}
