package rooms

import "errors"

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrRoomNotFound    = errors.New("room not found")
	ErrRoomExpired     = errors.New("room expired")
)
