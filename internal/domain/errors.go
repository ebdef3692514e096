package domain

import "errors"

var (
	// ErrAuthFailure is returned when a bearer token is missing, malformed, or expired.
	ErrAuthFailure = errors.New("authentication failed")

	// ErrInvalidStatus is returned when a presence status is outside {online, offline, dnd, idle}.
	ErrInvalidStatus = errors.New("invalid presence status")

	// ErrRoomNotFound is returned when a room has no local subscribers and no cached state.
	ErrRoomNotFound = errors.New("room not found")

	// ErrNotMember is returned when a user attempts to join a room they do not belong to.
	ErrNotMember = errors.New("user is not a member of this room")

	// ErrUserNotConnected is returned by the Notification Dispatcher when a user has no live socket.
	ErrUserNotConnected = errors.New("user is not connected")

	// ErrPublishFailed is returned when the message bus rejects or fails to confirm a publish.
	ErrPublishFailed = errors.New("failed to publish message to bus")

	// ErrBusUnavailable is returned when the Bus Gateway cannot produce a queue/channel pair.
	ErrBusUnavailable = errors.New("message bus is currently unavailable")

	// ErrStoreUnavailable is returned when the durable store cannot be reached.
	ErrStoreUnavailable = errors.New("durable store is currently unavailable")
)
