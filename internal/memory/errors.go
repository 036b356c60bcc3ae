package memory

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports a directory lookup with no matching conversation.
	ErrNotFound = errors.New("conversation not found")
	// ErrConflict reports a duplicate-identity insert that lost the race for a
	// (user, agent) pair and could not be recovered by re-resolving.
	ErrConflict = errors.New("conversation already exists for user/agent pair")
	// ErrInvalidIdentity reports an empty identifier where one is required.
	ErrInvalidIdentity = errors.New("identifier must not be empty")
)

// CorruptRecordError tags a decode failure with the conversation whose stored
// blob is unreadable. Callers decide whether to surface it or fall back to an
// empty history; the store itself never masks it.
type CorruptRecordError struct {
	ConversationID string
	Err            error
}

func (e *CorruptRecordError) Error() string {
	return fmt.Sprintf("corrupt record for conversation %s: %v", e.ConversationID, e.Err)
}

func (e *CorruptRecordError) Unwrap() error { return e.Err }
