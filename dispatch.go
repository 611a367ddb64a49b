package p2pchat

import (
	"context"

	"github.com/google/uuid"
)

// Receipt id prefixes, by the kind of message acknowledged.
const (
	textIDPrefix  = "msg"
	imageIDPrefix = "img"
	voiceIDPrefix = "voice"
)

// dispatch maps one decoded frame of s to listener events. It runs on the
// receive goroutine, so events keep wire order.
func (m *Manager) dispatch(s *session, frame Frame) error {
	switch f := frame.(type) {
	case *TextFrame:
		msg := Message{ID: newMessageID(textIDPrefix), Kind: KindText, Text: f.Payload}
		if env, err := m.opts.router.Unwrap(f.Payload); err == nil {
			msg.Text = env.Payload
			msg.Source = env.Source
			msg.Destination = env.Dest
			m.logger.Debug("data envelope", "src", env.Source, "dst", env.Dest)
		} else {
			m.logger.Debug("not a routing envelope, using raw text", "error", err)
		}

		if decision, err := m.opts.router.HandleIncoming(f.Payload); err != nil {
			m.logger.Warn("routing handle incoming failed", "error", err)
		} else {
			m.logger.Debug("routing decision", "decision", decision.String())
		}

		m.notify(func(l Listener) { l.OnMessageReceived(msg) })
		m.acknowledge(s, msg.ID)

	case *ImageFrame:
		msg := Message{ID: newMessageID(imageIDPrefix), Kind: KindImage, Media: f.Data}
		m.logger.Debug("image received", "size", len(f.Data))
		m.notify(func(l Listener) { l.OnMessageReceived(msg) })
		m.acknowledge(s, msg.ID)

	case *VoiceFrame:
		msg := Message{
			ID:       newMessageID(voiceIDPrefix),
			Kind:     KindVoice,
			Media:    f.Data,
			Duration: f.Duration,
		}
		m.logger.Debug("voice received", "size", len(f.Data), "duration", f.Duration)
		m.notify(func(l Listener) { l.OnMessageReceived(msg) })
		m.acknowledge(s, msg.ID)

	case *DeliveryReceiptFrame:
		m.logger.Debug("message delivered", "message_id", f.MessageID)
		id := f.MessageID
		m.notify(func(l Listener) { l.OnDeliveryStatusChanged(id, true) })

	case *SeenReceiptFrame:
		m.logger.Debug("message seen", "message_id", f.MessageID)
		id := f.MessageID
		m.notify(func(l Listener) { l.OnSeenStatusChanged(id, true) })

	case *ProfileInfoFrame:
		p := Profile{UserID: f.UserID, DisplayName: f.DisplayName, PhotoBase64: f.PhotoBase64}
		m.logger.Debug("profile received", "user_id", p.UserID, "display_name", p.DisplayName)
		m.notify(func(l Listener) { l.OnProfileReceived(p) })

	case *HelloFrame:
		// Reserved for a neighbour table; accepted and ignored.
		m.logger.Debug("hello received", "body", f.Body)

	default:
		// Only a custom codec can get here.
		if frame.Type().Known() {
			m.logger.Warn("unhandled frame implementation", "type", frame.Type())
		} else {
			m.logger.Debug("frame of unknown type ignored", "type", frame.Type())
		}
	}

	return nil
}

// acknowledge sends a delivery receipt without holding up the receive loop.
func (m *Manager) acknowledge(s *session, messageID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.opts.writeTimeout)
		defer cancel()

		if err := s.conn.WriteBlocking(ctx, &DeliveryReceiptFrame{MessageID: messageID}); err != nil {
			m.logger.Warn("delivery receipt not sent", "message_id", messageID, "error", err)
		}
	}()
}

func newMessageID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}
