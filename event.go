package p2pchat

import (
	"encoding/base64"
	"fmt"
	"time"
)

// MessageKind classifies a received chat message.
type MessageKind int

const (
	KindText MessageKind = iota
	KindImage
	KindVoice
)

func (k MessageKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindImage:
		return "image"
	case KindVoice:
		return "voice"
	default:
		return "unknown"
	}
}

// Message is a received chat message, normalized from a TEXT, IMAGE or
// VOICE frame.
type Message struct {
	// ID is generated on receipt and echoed to the peer in the delivery receipt.
	ID   string
	Kind MessageKind
	// Text is the unwrapped payload of a text message.
	Text string
	// Media holds image or voice bytes.
	Media []byte
	// Duration is set for voice messages.
	Duration time.Duration
	// Source and Destination come from the routing envelope, when there was one.
	Source      string
	Destination string
}

// IsImage reports whether the message carries an image.
func (m Message) IsImage() bool { return m.Kind == KindImage }

// IsAudio reports whether the message carries a voice clip.
func (m Message) IsAudio() bool { return m.Kind == KindVoice }

// MediaBase64 returns the media bytes in standard base64 without line
// breaks, or "" for text messages.
func (m Message) MediaBase64() string {
	if m.Kind == KindText {
		return ""
	}
	return base64.StdEncoding.EncodeToString(m.Media)
}

// LegacyText returns the text field as older clients expect it: voice
// messages carry "DURATION:<milliseconds>" and images an empty string.
func (m Message) LegacyText() string {
	switch m.Kind {
	case KindVoice:
		return fmt.Sprintf("DURATION:%d", m.Duration.Milliseconds())
	case KindImage:
		return ""
	default:
		return m.Text
	}
}

// Profile is the identity a peer announces.
type Profile struct {
	UserID      string
	DisplayName string
	// PhotoBase64 is empty when the peer has no photo.
	PhotoBase64 string
}

// Listener receives the events of a Manager.
type Listener interface {
	OnMessageReceived(msg Message)
	OnConnectionStatusChanged(connected bool)
	OnDeliveryStatusChanged(messageID string, delivered bool)
	OnSeenStatusChanged(messageID string, seen bool)
	OnProfileReceived(profile Profile)
}

// Callbacks adapts plain functions to a Listener. Nil fields are ignored.
type Callbacks struct {
	MessageReceived         func(msg Message)
	ConnectionStatusChanged func(connected bool)
	DeliveryStatusChanged   func(messageID string, delivered bool)
	SeenStatusChanged       func(messageID string, seen bool)
	ProfileReceived         func(profile Profile)
}

var _ Listener = Callbacks{}

func (c Callbacks) OnMessageReceived(msg Message) {
	if c.MessageReceived != nil {
		c.MessageReceived(msg)
	}
}

func (c Callbacks) OnConnectionStatusChanged(connected bool) {
	if c.ConnectionStatusChanged != nil {
		c.ConnectionStatusChanged(connected)
	}
}

func (c Callbacks) OnDeliveryStatusChanged(messageID string, delivered bool) {
	if c.DeliveryStatusChanged != nil {
		c.DeliveryStatusChanged(messageID, delivered)
	}
}

func (c Callbacks) OnSeenStatusChanged(messageID string, seen bool) {
	if c.SeenStatusChanged != nil {
		c.SeenStatusChanged(messageID, seen)
	}
}

func (c Callbacks) OnProfileReceived(profile Profile) {
	if c.ProfileReceived != nil {
		c.ProfileReceived(profile)
	}
}
