/* go-p2p-usb - share USB devices over an authenticated P2P link
 *
 * LineWriter splits a byte stream into complete lines and calls a
 * callback per line, letting *Logger back a standard *log.Logger (the
 * ErrorLog hook quic-go and net/http both expect). Lifted verbatim in
 * shape from the teacher's linewriter.go.
 */

package logutil

import "bytes"

// LineWriter implements io.Writer/io.Closer on top of a per-line
// callback. Close flushes a trailing incomplete line, if any.
type LineWriter struct {
	Callback func([]byte)
	buf      bytes.Buffer
}

func (lw *LineWriter) Write(text []byte) (int, error) {
	n := len(text)

	for len(text) > 0 {
		var line []byte
		var unfinished bool

		if idx := bytes.IndexByte(text, '\n'); idx >= 0 {
			idx++
			line = text[:idx]
			text = text[idx:]
		} else {
			line = text
			text = nil
			unfinished = true
		}

		if unfinished || lw.buf.Len() > 0 {
			lw.buf.Write(line)
			line = lw.buf.Bytes()
		}

		if !unfinished {
			lw.Callback(line)
			lw.buf.Reset()
		}
	}

	return n, nil
}

func (lw *LineWriter) Close() error {
	if lw.buf.Len() > 0 {
		lw.buf.WriteByte('\n')
		lw.Callback(lw.buf.Bytes())
	}
	return nil
}

// LineWriter returns a LineWriter that writes each line to l at the given
// level (prefixed with prefix when it is non-zero), for use as
// log.New(lw, "", 0) with library ErrorLog hooks.
func (l *Logger) LineWriter(level LogLevel, prefix byte) *LineWriter {
	return &LineWriter{
		Callback: func(line []byte) {
			s := string(bytes.TrimRight(line, "\n"))
			if prefix != 0 {
				s = string(prefix) + " " + s
			}
			l.write(level, s)
		},
	}
}
