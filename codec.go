package p2pchat

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"time"

	"github.com/pkg/errors"
)

// Errors returned by the wire codec.
var (
	// ErrUnknownFrameType is returned when a frame carries a tag this package
	// does not understand. Only the tag has been consumed, so the stream is
	// still aligned and the default error policy keeps the connection open.
	ErrUnknownFrameType = errors.New("unknown frame type")
	// ErrInvalidLength is returned for a negative media length.
	ErrInvalidLength = errors.New("invalid media length")
	// ErrStringTooLong is returned when a string does not fit the 2-byte prefix.
	ErrStringTooLong = errors.New("string too long")
	// ErrMalformedString is returned for bytes that are not modified UTF-8.
	ErrMalformedString = errors.New("malformed string")
	// ErrUnsupportedFrame is returned when encoding a frame the codec does not know.
	ErrUnsupportedFrame = errors.New("unsupported frame")
)

// Codec is the interface for frame encoding and decoding.
//
// Decode reads from an io.Reader so the codec controls exactly how many
// bytes belong to one frame; the stream carries no outer length prefix.
type Codec interface {
	// Decode reads and decodes one complete frame from the reader.
	Decode(r io.Reader) (Frame, error)
	// Encode encodes a frame into the bytes written to the stream.
	Encode(Frame) ([]byte, error)
}

// WireCodec implements the tagged wire protocol: a length-prefixed tag
// followed by the fields of the frame type. Strings use a 2-byte big-endian
// length and modified UTF-8; integers are big-endian.
type WireCodec struct {
	maxMediaLength int
}

// NewWireCodec returns a codec rejecting image or voice payloads larger
// than maxMediaLength bytes. A non-positive value selects the default.
func NewWireCodec(maxMediaLength int) *WireCodec {
	if maxMediaLength <= 0 || maxMediaLength > math.MaxInt32 {
		maxMediaLength = defaultMaxFrameLength
	}
	return &WireCodec{maxMediaLength: maxMediaLength}
}

// Encode implements Codec.
func (c *WireCodec) Encode(f Frame) ([]byte, error) {
	if f == nil {
		return nil, ErrUnsupportedFrame
	}

	w := &frameWriter{}
	w.writeString(string(f.Type()))

	switch f := f.(type) {
	case *TextFrame:
		w.writeString(f.Payload)
	case *ImageFrame:
		w.checkMedia(c, f.Data)
		w.writeInt32(int32(len(f.Data)))
		w.write(f.Data)
	case *VoiceFrame:
		w.checkMedia(c, f.Data)
		w.writeInt32(int32(len(f.Data)))
		w.writeInt64(f.Duration.Milliseconds())
		w.write(f.Data)
	case *DeliveryReceiptFrame:
		w.writeString(f.MessageID)
	case *SeenReceiptFrame:
		w.writeString(f.MessageID)
	case *ProfileInfoFrame:
		w.writeString(f.UserID)
		w.writeString(f.DisplayName)
		w.writeString(f.PhotoBase64)
	case *HelloFrame:
		w.writeString(f.Body)
	default:
		return nil, errors.Wrapf(ErrUnsupportedFrame, "%T", f)
	}

	if w.err != nil {
		return nil, errors.Wrapf(w.err, "encode %s", f.Type())
	}
	return w.buf.Bytes(), nil
}

// Decode implements Codec. An io.EOF before the first byte of a frame is
// returned unchanged; a stream ending inside a frame yields
// io.ErrUnexpectedEOF.
func (c *WireCodec) Decode(r io.Reader) (Frame, error) {
	fr := &frameReader{r: r}

	tag, err := fr.readString()
	if err != nil {
		return nil, err
	}

	t := FrameType(tag)
	var f Frame
	switch t {
	case FrameText:
		payload, err := fr.readString()
		if err != nil {
			return nil, midFrame(t, err)
		}
		f = &TextFrame{Payload: payload}
	case FrameImage:
		data, err := c.readMedia(fr, nil)
		if err != nil {
			return nil, midFrame(t, err)
		}
		f = &ImageFrame{Data: data}
	case FrameVoice:
		var ms int64
		data, err := c.readMedia(fr, &ms)
		if err != nil {
			return nil, midFrame(t, err)
		}
		f = &VoiceFrame{Duration: msToDuration(ms), Data: data}
	case FrameDeliveryReceipt, FrameSeenReceipt:
		id, err := fr.readString()
		if err != nil {
			return nil, midFrame(t, err)
		}
		if t == FrameDeliveryReceipt {
			f = &DeliveryReceiptFrame{MessageID: id}
		} else {
			f = &SeenReceiptFrame{MessageID: id}
		}
	case FrameProfileInfo:
		var fields [3]string
		for i := range fields {
			if fields[i], err = fr.readString(); err != nil {
				return nil, midFrame(t, err)
			}
		}
		f = &ProfileInfoFrame{UserID: fields[0], DisplayName: fields[1], PhotoBase64: fields[2]}
	case FrameHello:
		body, err := fr.readString()
		if err != nil {
			return nil, midFrame(t, err)
		}
		f = &HelloFrame{Body: body}
	default:
		return nil, errors.Wrapf(ErrUnknownFrameType, "tag %q", tag)
	}

	return f, nil
}

// readMedia reads a length, an optional duration and the media bytes.
// The duration sits between the length and the bytes.
func (c *WireCodec) readMedia(fr *frameReader, durationMs *int64) ([]byte, error) {
	n, err := fr.readInt32()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, errors.Wrapf(ErrInvalidLength, "%d", n)
	}
	if int(n) > c.maxMediaLength {
		return nil, errors.Wrapf(ErrMessageTooLarge, "%d > %d", n, c.maxMediaLength)
	}
	if durationMs != nil {
		if *durationMs, err = fr.readInt64(); err != nil {
			return nil, err
		}
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(fr.r, data); err != nil {
		return nil, err
	}
	return data, nil
}

// midFrame reports a failure after the tag was read. The stream cannot be
// realigned, so a clean EOF here is a truncation.
func midFrame(t FrameType, err error) error {
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return errors.Wrapf(err, "decode %s", t)
}

func msToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// frameWriter accumulates one frame; the first error sticks.
type frameWriter struct {
	buf bytes.Buffer
	err error
}

func (w *frameWriter) writeString(s string) {
	if w.err != nil {
		return
	}
	b, err := encodeModifiedUTF8(s)
	if err != nil {
		w.err = err
		return
	}
	var hdr [2]byte
	binary.BigEndian.PutUint16(hdr[:], uint16(len(b)))
	w.buf.Write(hdr[:])
	w.buf.Write(b)
}

func (w *frameWriter) checkMedia(c *WireCodec, data []byte) {
	if w.err == nil && len(data) > c.maxMediaLength {
		w.err = errors.Wrapf(ErrMessageTooLarge, "%d > %d", len(data), c.maxMediaLength)
	}
}

func (w *frameWriter) writeInt32(v int32) {
	if w.err != nil {
		return
	}
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	w.buf.Write(b[:])
}

func (w *frameWriter) writeInt64(v int64) {
	if w.err != nil {
		return
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	w.buf.Write(b[:])
}

func (w *frameWriter) write(b []byte) {
	if w.err != nil {
		return
	}
	w.buf.Write(b)
}

type frameReader struct {
	r       io.Reader
	scratch [8]byte
}

func (fr *frameReader) readString() (string, error) {
	if _, err := io.ReadFull(fr.r, fr.scratch[:2]); err != nil {
		return "", err
	}
	n := binary.BigEndian.Uint16(fr.scratch[:2])
	if n == 0 {
		return "", nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(fr.r, b); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return "", err
	}
	return decodeModifiedUTF8(b)
}

func (fr *frameReader) readInt32() (int32, error) {
	if _, err := io.ReadFull(fr.r, fr.scratch[:4]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(fr.scratch[:4])), nil
}

func (fr *frameReader) readInt64() (int64, error) {
	if _, err := io.ReadFull(fr.r, fr.scratch[:8]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(fr.scratch[:8])), nil
}
