// Package chat runs conversational turns against a session index, streaming
// answer fragments as wire frames.
package chat

// Sender identifies which side of the conversation a frame belongs to.
type Sender string

const (
	SenderYou Sender = "you"
	SenderBot Sender = "bot"
)

// FrameType is the wire-level frame kind. A turn emits start, any number of
// stream frames, then exactly one end frame, or a single error frame in place
// of the remainder.
type FrameType string

const (
	FrameStart  FrameType = "start"
	FrameStream FrameType = "stream"
	FrameError  FrameType = "error"
	FrameEnd    FrameType = "end"
)

// Frame is one unit of the chat stream.
type Frame struct {
	Sender  Sender    `json:"sender"`
	Type    FrameType `json:"type"`
	Message string    `json:"message,omitempty"`
}

func StartFrame() Frame {
	return Frame{Sender: SenderBot, Type: FrameStart}
}

func StreamFrame(sender Sender, message string) Frame {
	return Frame{Sender: sender, Type: FrameStream, Message: message}
}

func EndFrame() Frame {
	return Frame{Sender: SenderBot, Type: FrameEnd}
}

func ErrorFrame(message string) Frame {
	return Frame{Sender: SenderBot, Type: FrameError, Message: message}
}
