package p2pchat

import (
	"unicode/utf16"

	"github.com/pkg/errors"
)

// maxStringLength is the largest encoded string the 2-byte prefix can describe.
const maxStringLength = 0xFFFF

// encodeModifiedUTF8 encodes s the way java.io.DataOutput#writeUTF does:
// UTF-16 code units, NUL as two bytes, supplementary characters as two
// three-byte surrogates.
func encodeModifiedUTF8(s string) ([]byte, error) {
	if isPlainASCII(s) {
		if len(s) > maxStringLength {
			return nil, errors.Wrapf(ErrStringTooLong, "%d bytes", len(s))
		}
		return []byte(s), nil
	}

	units := utf16.Encode([]rune(s))
	n := 0
	for _, u := range units {
		switch {
		case u >= 0x0001 && u <= 0x007F:
			n++
		case u > 0x07FF:
			n += 3
		default:
			n += 2
		}
	}
	if n > maxStringLength {
		return nil, errors.Wrapf(ErrStringTooLong, "%d bytes", n)
	}

	buf := make([]byte, 0, n)
	for _, u := range units {
		switch {
		case u >= 0x0001 && u <= 0x007F:
			buf = append(buf, byte(u))
		case u > 0x07FF:
			buf = append(buf,
				byte(0xE0|(u>>12)&0x0F),
				byte(0x80|(u>>6)&0x3F),
				byte(0x80|u&0x3F))
		default:
			buf = append(buf,
				byte(0xC0|(u>>6)&0x1F),
				byte(0x80|u&0x3F))
		}
	}
	return buf, nil
}

// decodeModifiedUTF8 is the inverse of encodeModifiedUTF8.
func decodeModifiedUTF8(b []byte) (string, error) {
	if isPlainASCII(string(b)) {
		return string(b), nil
	}

	units := make([]uint16, 0, len(b))
	for i := 0; i < len(b); {
		c := b[i]
		switch c >> 4 {
		case 0, 1, 2, 3, 4, 5, 6, 7:
			units = append(units, uint16(c))
			i++
		case 12, 13:
			if i+1 >= len(b) || b[i+1]&0xC0 != 0x80 {
				return "", errors.Wrapf(ErrMalformedString, "at byte %d", i)
			}
			units = append(units, uint16(c&0x1F)<<6|uint16(b[i+1]&0x3F))
			i += 2
		case 14:
			if i+2 >= len(b) || b[i+1]&0xC0 != 0x80 || b[i+2]&0xC0 != 0x80 {
				return "", errors.Wrapf(ErrMalformedString, "at byte %d", i)
			}
			units = append(units, uint16(c&0x0F)<<12|uint16(b[i+1]&0x3F)<<6|uint16(b[i+2]&0x3F))
			i += 3
		default:
			return "", errors.Wrapf(ErrMalformedString, "at byte %d", i)
		}
	}
	return string(utf16.Decode(units)), nil
}

// isPlainASCII reports whether s has the same bytes in UTF-8 and modified UTF-8.
func isPlainASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == 0 || s[i] >= 0x80 {
			return false
		}
	}
	return true
}
