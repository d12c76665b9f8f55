package constpool

import (
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// decodeModifiedUTF8 converts the modified UTF-8 used by Utf8 entries into
// a Go string. Input that is not valid modified UTF-8 (common in obfuscated
// classes) is returned as string(b) with ok false; the pool then keeps the
// bytes and writes them back verbatim.
func decodeModifiedUTF8(b []byte) (string, bool) {
	ascii := true
	for _, c := range b {
		if c == 0 || c >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		return string(b), true
	}

	units := make([]uint16, 0, len(b))
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c != 0 && c < 0x80:
			units = append(units, uint16(c))
			i++
		case c&0xE0 == 0xC0:
			if i+1 >= len(b) || b[i+1]&0xC0 != 0x80 {
				return string(b), false
			}
			u := uint16(c&0x1F)<<6 | uint16(b[i+1]&0x3F)
			if u != 0 && u < 0x80 {
				return string(b), false // overlong
			}
			units = append(units, u)
			i += 2
		case c&0xF0 == 0xE0:
			if i+2 >= len(b) || b[i+1]&0xC0 != 0x80 || b[i+2]&0xC0 != 0x80 {
				return string(b), false
			}
			u := uint16(c&0x0F)<<12 | uint16(b[i+1]&0x3F)<<6 | uint16(b[i+2]&0x3F)
			if u < 0x800 {
				return string(b), false
			}
			units = append(units, u)
			i += 3
		default:
			return string(b), false
		}
	}

	var sb strings.Builder
	for i := 0; i < len(units); i++ {
		u := rune(units[i])
		if !utf16.IsSurrogate(u) {
			sb.WriteRune(u)
			continue
		}
		// A lone surrogate has no Go string form that survives a round
		// trip; keep the raw bytes instead.
		if u >= 0xDC00 || i+1 >= len(units) || units[i+1] < 0xDC00 || units[i+1] > 0xDFFF {
			return string(b), false
		}
		sb.WriteRune(utf16.DecodeRune(u, rune(units[i+1])))
		i++
	}
	return sb.String(), true
}

// encodeModifiedUTF8 is the inverse of decodeModifiedUTF8 for input it
// accepted. Strings that are not valid UTF-8 are emitted unchanged.
func encodeModifiedUTF8(s string) []byte {
	plain := true
	for i := 0; i < len(s); i++ {
		if c := s[i]; c == 0 || c >= 0x80 {
			plain = false
			break
		}
	}
	if plain || !utf8.ValidString(s) {
		return []byte(s)
	}

	out := make([]byte, 0, len(s)+len(s)/2)
	for _, r := range s {
		for _, u := range utf16.Encode([]rune{r}) {
			switch {
			case u != 0 && u < 0x80:
				out = append(out, byte(u))
			case u < 0x800:
				out = append(out, 0xC0|byte(u>>6), 0x80|byte(u&0x3F))
			default:
				out = append(out, 0xE0|byte(u>>12), 0x80|byte(u>>6&0x3F), 0x80|byte(u&0x3F))
			}
		}
	}
	return out
}
