package chat

import "time"

// ---------------------------------------------
// Database & API Models
// ---------------------------------------------

// Message is a stored chat message. It is immutable once appended.
type Message struct {
	ID        int64     `json:"-"`
	Content   string    `json:"content"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

// SendRequest is the body of POST /chat/sendMessage.
type SendRequest struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ---------------------------------------------
// WebSocket frames
// ---------------------------------------------

const (
	FrameUsername    = "username"
	FrameMessage     = "message"
	FrameMessageSent = "messageSent"
	FrameError       = "error"
)

// InboundFrame is what a browser sends. Only Type "message" is acted on.
type InboundFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type UsernameFrame struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

type MessageFrame struct {
	Type     string `json:"type"`
	Message  string `json:"message"`
	Username string `json:"username"`
}

type AckFrame struct {
	Type string `json:"type"`
}

type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewUsernameFrame(username string) UsernameFrame {
	return UsernameFrame{Type: FrameUsername, Username: username}
}

func NewMessageFrame(content, username string) MessageFrame {
	return MessageFrame{Type: FrameMessage, Message: content, Username: username}
}

func NewAckFrame() AckFrame {
	return AckFrame{Type: FrameMessageSent}
}

func NewErrorFrame(message string) ErrorFrame {
	return ErrorFrame{Type: FrameError, Message: message}
}
