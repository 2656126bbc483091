package chat

import (
	"errors"
	"net/http"
)

var (
	ErrEmptyMessage          = errors.New("chat: empty message")
	ErrMessageTooLong        = errors.New("chat: message too long")
	ErrProfanity             = errors.New("chat: message rejected by moderation")
	ErrModerationUnavailable = errors.New("chat: moderation unavailable")
	ErrPersistence           = errors.New("chat: message not stored")
)

// Texts shown to the sender, in error frames and HTTP bodies.
var userMessages = []struct {
	err  error
	text string
}{
	{ErrEmptyMessage, "Message is empty"},
	{ErrMessageTooLong, "Message is too long"},
	{ErrProfanity, "Message contains bad words"},
	{ErrModerationUnavailable, "Message could not be checked, try again later"},
	{ErrPersistence, "Message could not be saved"},
}

func userMessage(err error) string {
	for _, m := range userMessages {
		if errors.Is(err, m.err) {
			return m.text
		}
	}
	return "Message could not be sent"
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, ErrEmptyMessage), errors.Is(err, ErrMessageTooLong):
		return http.StatusBadRequest
	case errors.Is(err, ErrProfanity):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrModerationUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
