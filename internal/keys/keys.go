// Package keys translates the symbolic key tokens a controller sends
// over the wire ("Up", "C-c", "F5", ...) into the byte sequences a real
// terminal would emit for those keystrokes (spec §4.1). Translation is
// pure and side-effect free; it knows nothing about PTYs or sessions.
package keys

import (
	"fmt"
	"strings"
)

// InvalidKeyError reports a C- or C-M- token whose target has no control
// byte. A token that matches no named key and no modifier prefix is not
// an error: Translate passes it through as literal text.
type InvalidKeyError struct {
	Token string
}

func (e *InvalidKeyError) Error() string {
	return fmt.Sprintf("invalid key token: %q", e.Token)
}

// named maps the xterm key names spec §4.1 lists to the byte sequence
// xterm emits for them in its default (non-application) cursor-key mode.
var named = map[string][]byte{
	"Up":       []byte("\x1b[A"),
	"Down":     []byte("\x1b[B"),
	"Right":    []byte("\x1b[C"),
	"Left":     []byte("\x1b[D"),
	"Home":     []byte("\x1b[H"),
	"End":      []byte("\x1b[F"),
	"PageUp":   []byte("\x1b[5~"),
	"PageDown": []byte("\x1b[6~"),
	"Tab":      []byte("\t"),
	"Backspace": []byte("\x7f"),
	"Delete":   []byte("\x1b[3~"),
	"Enter":    []byte("\r"),
	"Escape":   []byte("\x1b"),
	"Space":    []byte(" "),

	// SS3-encoded function keys, xterm's classic mapping.
	"F1": []byte("\x1bOP"),
	"F2": []byte("\x1bOQ"),
	"F3": []byte("\x1bOR"),
	"F4": []byte("\x1bOS"),

	// CSI-encoded function keys. xterm's numbering skips 16 and 22, so
	// F5 is 15~, F6-F10 are 17~-21~, and F11/F12 are 23~/24~.
	"F5":  []byte("\x1b[15~"),
	"F6":  []byte("\x1b[17~"),
	"F7":  []byte("\x1b[18~"),
	"F8":  []byte("\x1b[19~"),
	"F9":  []byte("\x1b[20~"),
	"F10": []byte("\x1b[21~"),
	"F11": []byte("\x1b[23~"),
	"F12": []byte("\x1b[24~"),
}

// Translate maps a single key token to the bytes a terminal would emit
// for it. Tokens of the form "C-x", "M-x", or "C-M-x" are modified
// keystrokes; anything else is looked up in the named-key table, and
// falling through that, treated as literal text passed through verbatim
// (spec §4.1: "any string that does not start with a recognized prefix
// is passed through verbatim").
func Translate(token string) ([]byte, error) {
	if token == "" {
		return nil, nil
	}

	if bytes, ok := named[token]; ok {
		return bytes, nil
	}

	if rest, ok := stripPrefix(token, "C-M-"); ok {
		b, err := controlByte(rest)
		if err != nil {
			return nil, err
		}
		return append([]byte{0x1b}, b), nil
	}
	if rest, ok := stripPrefix(token, "M-C-"); ok {
		b, err := controlByte(rest)
		if err != nil {
			return nil, err
		}
		return append([]byte{0x1b}, b), nil
	}
	if rest, ok := stripPrefix(token, "C-"); ok {
		b, err := controlByte(rest)
		if err != nil {
			return nil, err
		}
		return []byte{b}, nil
	}
	if rest, ok := stripPrefix(token, "M-"); ok {
		// Meta applies ESC-prefixing to whatever the remainder resolves
		// to, whether that's another named key or a literal rune.
		inner, err := Translate(rest)
		if err != nil {
			return nil, err
		}
		return append([]byte{0x1b}, inner...), nil
	}

	// Not a recognized prefix or named key: literal text passthrough.
	return []byte(token), nil
}

func stripPrefix(token, prefix string) (string, bool) {
	if strings.HasPrefix(token, prefix) && len(token) > len(prefix) {
		return token[len(prefix):], true
	}
	return "", false
}

// controlByte maps a single ASCII letter to its control byte, e.g. 'c'
// or 'C' both map to 0x03 (Ctrl-C). Valid control-key targets are the
// letters A-Z/a-z and the punctuation @ [ \ ] ^ _ (0x00 and 0x1b-0x1f).
func controlByte(letter string) (byte, error) {
	if len(letter) != 1 {
		return 0, &InvalidKeyError{Token: "C-" + letter}
	}
	c := letter[0]
	switch {
	case c >= 'a' && c <= 'z':
		return c - 'a' + 1, nil
	case c >= 'A' && c <= 'Z':
		return c - 'A' + 1, nil
	case c == '@':
		return 0x00, nil
	case c == '[':
		return 0x1b, nil
	case c == '\\':
		return 0x1c, nil
	case c == ']':
		return 0x1d, nil
	case c == '^':
		return 0x1e, nil
	case c == '_':
		return 0x1f, nil
	default:
		return 0, &InvalidKeyError{Token: "C-" + letter}
	}
}
