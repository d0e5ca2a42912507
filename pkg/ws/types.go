// Package ws defines the chat wire protocol: a JSON envelope
// {"type": ..., "content": ...} carrying one of a closed set of events.
package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Event names.
const (
	TypeJoin                  = "join"
	TypeSendMessage           = "send_message"
	TypeLoadMessages          = "load_messages"
	TypeNewMessage            = "new_message"
	TypeWarningMessage        = "warning_message"
	TypeOffensiveMessageAlert = "offensive_message_alert"
	TypeOnlineUsers           = "online_users"
	TypeDeleteMessage         = "delete_message"
	TypeMessageDeleted        = "message_deleted"
	TypeBanUser               = "ban_user"
	TypeYouAreBanned          = "you_are_banned"
	TypeUserBanned            = "user_banned"
	TypeError                 = "error"
)

var (
	ErrUnknownEvent   = errors.New("unknown event type")
	ErrMalformedEvent = errors.New("malformed event")
)

// Envelope is the frame sent in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
}

// MessageView is a persisted message as clients see it.
type MessageView struct {
	ID          string    `json:"_id"`
	Content     string    `json:"content"`
	Username    string    `json:"username"`
	UserID      *string   `json:"user,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	IsOffensive bool      `json:"isOffensive"`
}

// RosterEntry is one online participant.
type RosterEntry struct {
	Username string  `json:"username"`
	SocketID string  `json:"socketId"`
	UserID   *string `json:"userId"`
}

// Event is a server to client event. The set is closed to this package.
type Event interface {
	Type() string
	payload() any
}

type LoadMessages struct{ Messages []MessageView }

type NewMessage struct{ Message MessageView }

type WarningMessage struct{ Message string }

type OffensiveMessageAlert struct {
	Username  string
	Message   string
	Timestamp time.Time
}

type OnlineUsers struct{ Users []RosterEntry }

type MessageDeleted struct{ MessageID string }

type YouAreBanned struct{ Message string }

type UserBanned struct {
	UserID   string
	Username string
	Message  string
}

type Error struct{ Message string }

func (LoadMessages) Type() string          { return TypeLoadMessages }
func (NewMessage) Type() string            { return TypeNewMessage }
func (WarningMessage) Type() string        { return TypeWarningMessage }
func (OffensiveMessageAlert) Type() string { return TypeOffensiveMessageAlert }
func (OnlineUsers) Type() string           { return TypeOnlineUsers }
func (MessageDeleted) Type() string        { return TypeMessageDeleted }
func (YouAreBanned) Type() string          { return TypeYouAreBanned }
func (UserBanned) Type() string            { return TypeUserBanned }
func (Error) Type() string                 { return TypeError }

func (e LoadMessages) payload() any {
	if e.Messages == nil {
		return []MessageView{}
	}
	return e.Messages
}

func (e NewMessage) payload() any {
	return struct {
		Message MessageView `json:"message"`
	}{e.Message}
}

func (e WarningMessage) payload() any { return messagePayload{e.Message} }

func (e OffensiveMessageAlert) payload() any {
	return struct {
		Username  string    `json:"username"`
		Message   string    `json:"message"`
		Timestamp time.Time `json:"timestamp"`
	}{e.Username, e.Message, e.Timestamp}
}

func (e OnlineUsers) payload() any {
	if e.Users == nil {
		return []RosterEntry{}
	}
	return e.Users
}

func (e MessageDeleted) payload() any { return e.MessageID }

func (e YouAreBanned) payload() any { return messagePayload{e.Message} }

func (e UserBanned) payload() any {
	return struct {
		UserID   string `json:"userId"`
		Username string `json:"username"`
		Message  string `json:"message"`
	}{e.UserID, e.Username, e.Message}
}

func (e Error) payload() any { return messagePayload{e.Message} }

type messagePayload struct {
	Message string `json:"message"`
}

// Encode renders ev as an envelope.
func Encode(ev Event) ([]byte, error) {
	content, err := json.Marshal(ev.payload())
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.Type(), err)
	}
	return json.Marshal(Envelope{Type: ev.Type(), Content: content})
}

// Command is a client to server event. The set is closed to this package.
type Command interface {
	Type() string
	command()
}

type Join struct{ Username string }

type SendMessage struct {
	Message string `json:"message"`
	UserID  string `json:"userId"`
}

type DeleteMessage struct{ MessageID string }

type BanUser struct{ UserID string }

func (Join) Type() string          { return TypeJoin }
func (SendMessage) Type() string   { return TypeSendMessage }
func (DeleteMessage) Type() string { return TypeDeleteMessage }
func (BanUser) Type() string       { return TypeBanUser }

func (Join) command()          {}
func (SendMessage) command()   {}
func (DeleteMessage) command() {}
func (BanUser) command()       {}

// ParseCommand decodes an inbound frame.
func ParseCommand(data []byte) (Command, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	switch env.Type {
	case TypeJoin:
		s, err := decodeString(env)
		return Join{Username: s}, err
	case TypeSendMessage:
		var cmd SendMessage
		if err := decode(env, &cmd); err != nil {
			return nil, err
		}
		return cmd, nil
	case TypeDeleteMessage:
		s, err := decodeString(env)
		return DeleteMessage{MessageID: s}, err
	case TypeBanUser:
		s, err := decodeString(env)
		return BanUser{UserID: s}, err
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
}

func decode(env Envelope, v any) error {
	if len(env.Content) == 0 {
		return fmt.Errorf("%w: %s without content", ErrMalformedEvent, env.Type)
	}
	if err := json.Unmarshal(env.Content, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedEvent, env.Type, err)
	}
	return nil
}

func decodeString(env Envelope) (string, error) {
	var s string
	err := decode(env, &s)
	return s, err
}
