package bgshell

import "bytes"

// sanitizer cleans PTY output for consumption by a model: CRLF becomes LF,
// OSC/CSI escape sequences are stripped, and control bytes other than tab and
// newline are removed. Escape sequences can arrive split across reads, so an
// incomplete trailing sequence is carried into the next call.
type sanitizer struct {
	carry []byte
}

const (
	esc = 0x1b
	bel = 0x07
)

// Sanitize consumes one raw chunk and returns the cleaned text.
func (s *sanitizer) Sanitize(chunk []byte) []byte {
	data := chunk
	if len(s.carry) > 0 {
		data = append(append([]byte{}, s.carry...), chunk...)
		s.carry = nil
	}

	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); {
		b := data[i]
		if b == esc {
			n, complete := escapeLen(data[i:])
			if !complete {
				s.carry = append(s.carry, data[i:]...)
				return out
			}
			i += n
			continue
		}
		if b == '\r' {
			// CRLF -> LF; a bare CR is dropped (cursor motion, not content).
			i++
			continue
		}
		if b == '\t' || b == '\n' || b >= 0x20 {
			out = append(out, b)
			i++
			continue
		}
		i++ // other control byte
	}
	return out
}

// Flush drops whatever incomplete sequence is still carried; callers use it
// when the stream ends mid-escape. The bytes are discarded as noise and
// nothing is returned.
func (s *sanitizer) Flush() {
	s.carry = nil
}

// escapeLen reports the byte length of the escape sequence at data[0]==ESC and
// whether the sequence is complete within data.
func escapeLen(data []byte) (int, bool) {
	if len(data) < 2 {
		return 0, false
	}
	switch data[1] {
	case ']': // OSC ... (BEL | ESC \)
		for i := 2; i < len(data); i++ {
			if data[i] == bel {
				return i + 1, true
			}
			if data[i] == esc {
				if i+1 >= len(data) {
					return 0, false
				}
				if data[i+1] == '\\' {
					return i + 2, true
				}
			}
		}
		return 0, false
	case '[': // CSI params/intermediates then final byte 0x40-0x7e
		for i := 2; i < len(data); i++ {
			if data[i] >= 0x40 && data[i] <= 0x7e {
				return i + 1, true
			}
			if data[i] < 0x20 || data[i] > 0x3f {
				// Malformed; treat the ESC[ as consumed noise.
				return i, true
			}
		}
		return 0, false
	case 'P', '_', '^': // DCS/APC/PM terminated by ST (ESC \)
		for i := 2; i < len(data); i++ {
			if data[i] == esc && i+1 < len(data) && data[i+1] == '\\' {
				return i + 2, true
			}
		}
		return 0, false
	default:
		// Two-byte sequence (charset selects and friends take one extra byte).
		if data[1] == '(' || data[1] == ')' {
			if len(data) < 3 {
				return 0, false
			}
			return 3, true
		}
		return 2, true
	}
}

// collapseFocusNoise removes runs of focus in/out reports that some shells
// echo back; the sequences themselves are stripped as CSI, this removes the
// blank lines they leave behind when a run was the only line content.
func collapseFocusNoise(b []byte) []byte {
	for bytes.Contains(b, []byte("\n\n\n")) {
		b = bytes.ReplaceAll(b, []byte("\n\n\n"), []byte("\n\n"))
	}
	return b
}
