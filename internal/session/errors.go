package session

import "errors"

// Sentinel errors for session store operations.
// These errors are part of the Store's public API and should be checked using
// errors.Is().
//
// Example:
//
//	sess, err := store.Get(id, ownerID)
//	if errors.Is(err, session.ErrNotFound) {
//	    // Handle missing session
//	}
var (
	// ErrNotFound indicates the requested session does not exist.
	ErrNotFound = errors.New("session not found")

	// ErrExpired indicates the session existed but its idle TTL elapsed.
	// The entry is evicted as a side effect of the access that observed it.
	ErrExpired = errors.New("session expired")

	// ErrForbidden indicates the caller does not own the session.
	ErrForbidden = errors.New("session owned by another user")

	// ErrSessionLimit indicates the owner already has the maximum number of
	// active sessions. Existing sessions are never evicted to make room.
	ErrSessionLimit = errors.New("active session limit reached")

	// ErrMessageLimit indicates the session reached its message cap.
	ErrMessageLimit = errors.New("session message limit reached")
)
