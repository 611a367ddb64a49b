package p2pchat

import "time"

// FrameType is the tag written in front of every frame on the wire.
type FrameType string

// Frame tags understood by the peer.
const (
	FrameText            FrameType = "TEXT"
	FrameImage           FrameType = "IMAGE"
	FrameVoice           FrameType = "VOICE"
	FrameDeliveryReceipt FrameType = "DELIVERY_RECEIPT"
	FrameSeenReceipt     FrameType = "SEEN_RECEIPT"
	FrameProfileInfo     FrameType = "PROFILE_INFO"
	FrameHello           FrameType = "HELLO"
)

// Known reports whether t is one of the tags this package can decode.
func (t FrameType) Known() bool {
	switch t {
	case FrameText, FrameImage, FrameVoice, FrameDeliveryReceipt,
		FrameSeenReceipt, FrameProfileInfo, FrameHello:
		return true
	default:
		return false
	}
}

// Frame is a single self-delimited protocol message.
type Frame interface {
	// Type returns the wire tag of the frame.
	Type() FrameType
}

// TextFrame carries a chat text, possibly wrapped in a routing envelope.
type TextFrame struct {
	Payload string
}

// ImageFrame carries raw (already compressed) image bytes.
type ImageFrame struct {
	Data []byte
}

// VoiceFrame carries a recorded voice clip and its duration.
// On the wire the duration is in milliseconds.
type VoiceFrame struct {
	Duration time.Duration
	Data     []byte
}

// DeliveryReceiptFrame acknowledges that a message reached the peer.
type DeliveryReceiptFrame struct {
	MessageID string
}

// SeenReceiptFrame acknowledges that a message was displayed to the user.
type SeenReceiptFrame struct {
	MessageID string
}

// ProfileInfoFrame announces the sender's identity.
type ProfileInfoFrame struct {
	UserID      string
	DisplayName string
	PhotoBase64 string
}

// HelloFrame carries an opaque routing hello produced by a Router.
type HelloFrame struct {
	Body string
}

func (*TextFrame) Type() FrameType            { return FrameText }
func (*ImageFrame) Type() FrameType           { return FrameImage }
func (*VoiceFrame) Type() FrameType           { return FrameVoice }
func (*DeliveryReceiptFrame) Type() FrameType { return FrameDeliveryReceipt }
func (*SeenReceiptFrame) Type() FrameType     { return FrameSeenReceipt }
func (*ProfileInfoFrame) Type() FrameType     { return FrameProfileInfo }
func (*HelloFrame) Type() FrameType           { return FrameHello }
