package handlers

import (
	"errors"

	"github.com/duskridge/realmd/realmd/game"
)

// Response is the uniform envelope every handler returns to the
// session layer.
type Response struct {
	Success   bool        `json:"success"`
	ErrorCode string      `json:"errorCode,omitempty"`
	Error     string      `json:"error,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

func ok(data interface{}) Response {
	return Response{Success: true, Data: data}
}

// fail maps an error onto the envelope. Anything without a game code is
// an internal failure and reported as SERVER_ERROR without leaking the
// underlying message.
func fail(err error) Response {
	var gameErr *game.Error
	if errors.As(err, &gameErr) {
		return Response{
			Success:   false,
			ErrorCode: string(gameErr.Code),
			Error:     gameErr.Message,
		}
	}
	return Response{
		Success:   false,
		ErrorCode: string(game.CodeServerError),
		Error:     "internal error, try again",
	}
}

func failCode(code game.Code, message string) Response {
	return Response{Success: false, ErrorCode: string(code), Error: message}
}
