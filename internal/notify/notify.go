package notify

import (
	"context"
	"encoding/json"
	"time"
)

// Message types published by the service.
const (
	TypeAttendanceConfirmed = "attendance_confirmed"
)

// Message is a notification about an attendance event.
type Message struct {
	Type      string    `json:"message_type"`
	StudentID string    `json:"student_id"`
	SessionID string    `json:"session_id"`
	ClassID   string    `json:"class_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Subject is a human readable title for the message.
func (m Message) Subject() string {
	switch m.Type {
	case TypeAttendanceConfirmed:
		return "Attendance Confirmed"
	default:
		return "Attendance Notification"
	}
}

// Publisher sends notifications. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Queue is a publisher whose messages can also be consumed by a worker.
type Queue interface {
	Publisher
	Consume(ctx context.Context) (<-chan Message, error)
}

// Drain consumes q until ctx ends, passing each message to deliver.
func Drain(ctx context.Context, q Queue, deliver func(Message)) error {
	messages, err := q.Consume(ctx)
	if err != nil {
		return err
	}
	for msg := range messages {
		deliver(msg)
	}
	return nil
}

// Discard drops every message. Used when no channel is configured.
type Discard struct{}

func (Discard) Publish(context.Context, Message) error { return nil }

func encode(msg Message) (string, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decode(s string) (Message, error) {
	var msg Message
	err := json.Unmarshal([]byte(s), &msg)
	return msg, err
}
