package control

import (
	"bytes"
	"fmt"
)

// Key is a decoded keystroke. Plain bytes map to themselves; function and
// cursor keys use values above the byte range.
type Key int

const (
	KeyUp Key = 0x100 + iota
	KeyDown
	KeyRight
	KeyLeft
	KeyF10
	KeyEscape
)

const esc = 0x1b

var keyNames = map[Key]string{
	KeyUp:     "up",
	KeyDown:   "down",
	KeyRight:  "right",
	KeyLeft:   "left",
	KeyF10:    "F10",
	KeyEscape: "escape",
}

func (k Key) String() string {
	if name, ok := keyNames[k]; ok {
		return name
	}
	if k >= 0x20 && k < 0x7f {
		return string(rune(k))
	}
	return fmt.Sprintf("key(%d)", int(k))
}

// Keymap decodes terminal escape sequences.
type Keymap struct {
	seqs map[string]Key
}

// DefaultKeymap covers ANSI and application-mode cursor keys and F10.
func DefaultKeymap() *Keymap {
	return &Keymap{seqs: map[string]Key{
		"\x1b[A":   KeyUp,
		"\x1b[B":   KeyDown,
		"\x1b[C":   KeyRight,
		"\x1b[D":   KeyLeft,
		"\x1bOA":   KeyUp,
		"\x1bOB":   KeyDown,
		"\x1bOC":   KeyRight,
		"\x1bOD":   KeyLeft,
		"\x1b[21~": KeyF10,
	}}
}

// Decode reads one key from the front of buf. It returns the number of
// bytes consumed, or 0 with more=true when buf ends inside a known sequence.
func (m *Keymap) Decode(buf []byte) (k Key, n int, more bool) {
	if len(buf) == 0 {
		return 0, 0, false
	}
	if buf[0] != esc {
		return Key(buf[0]), 1, false
	}
	for seq, key := range m.seqs {
		if bytes.HasPrefix(buf, []byte(seq)) {
			return key, len(seq), false
		}
	}
	for seq := range m.seqs {
		if len(buf) < len(seq) && bytes.HasPrefix([]byte(seq), buf) {
			return 0, 0, true
		}
	}
	return KeyEscape, 1, false
}
