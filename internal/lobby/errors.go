// internal/lobby/errors.go
package lobby

import "errors"

// Sentinel errors returned by Registry operations. Callers match them with
// errors.Is; the adapter maps them to HTTP status codes.
var (
	ErrDuplicateLobby = errors.New("a lobby with this name already exists in this guild")
	ErrLobbyNotFound  = errors.New("no lobby with this name exists in this guild")
	ErrAlreadyMember  = errors.New("you are already in this lobby")
	ErrNotInLobby     = errors.New("user is not in this lobby")
	ErrForbidden      = errors.New("you do not have permission to manage this lobby")
	ErrCannotKickHost = errors.New("the host cannot be kicked")
	ErrCannotKickSelf = errors.New("you cannot kick yourself")
	ErrInvalidSize    = errors.New("lobby size is out of range")
	ErrSameHost       = errors.New("that user is already the host")
)
