package domain

import "errors"

var (
	ErrRoomNotFound         = errors.New("room not found")
	ErrUserNotFound         = errors.New("user not found")
	ErrTargetUnreachable    = errors.New("target user unreachable")
	ErrTransportUnavailable = errors.New("transport unavailable")
	ErrPermissionDenied     = errors.New("media permission denied")
	ErrNegotiationFailed    = errors.New("negotiation failed")
)
