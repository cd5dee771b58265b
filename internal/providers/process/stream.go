package process

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding/ianaindex"
)

// stderrNoise lists pip's self-update nag, which lands on stderr without
// being an error.
var stderrNoise = []string{
	"A new release of pip is available",
	"[notice] To update, run",
}

// streamWriter splits raw process output into emitter calls. A newline
// completes a plain line; a bare carriage return completes an in-place
// progress update, the way pip and tqdm meters redraw. CRLF is a plain
// line ending.
type streamWriter struct {
	em     Emitter
	stderr bool
	buf    bytes.Buffer
	cr     bool
}

func (w *streamWriter) Write(p []byte) (int, error) {
	for _, b := range p {
		if w.cr {
			w.cr = false
			if b == '\n' {
				w.emit(false)
				continue
			}
			w.emit(true)
		}
		switch b {
		case '\n':
			w.emit(false)
		case '\r':
			w.cr = true
		default:
			w.buf.WriteByte(b)
		}
	}
	return len(p), nil
}

// Flush emits whatever is buffered once the stream closes.
func (w *streamWriter) Flush() {
	if w.cr {
		w.cr = false
		w.emit(true)
		return
	}
	if w.buf.Len() > 0 {
		w.emit(false)
	}
}

func (w *streamWriter) emit(progress bool) {
	line := decodeLine(w.buf.Bytes())
	w.buf.Reset()
	if strings.TrimSpace(line) == "" {
		return
	}
	switch {
	case w.stderr:
		for _, noise := range stderrNoise {
			if strings.Contains(line, noise) {
				return
			}
		}
		w.em.Error(line)
	case progress:
		w.em.Progress(line)
	default:
		w.em.Info(line)
	}
}

// chardet spells a few names differently from the IANA registry.
var charsetAliases = map[string]string{
	"GB-18030":     "GB18030",
	"ISO-8859-8-I": "ISO-8859-8",
}

// decodeLine returns the buffered bytes as UTF-8. Interpreters honor
// PYTHONIOENCODING, but native tools on Windows write the console code
// page, so anything that is not already valid UTF-8 gets sniffed and
// transcoded.
func decodeLine(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	if det, err := chardet.NewTextDetector().DetectBest(raw); err == nil && det != nil {
		name := det.Charset
		if alias, ok := charsetAliases[name]; ok {
			name = alias
		}
		if enc, err := ianaindex.IANA.Encoding(name); err == nil && enc != nil {
			if decoded, err := enc.NewDecoder().Bytes(raw); err == nil && utf8.Valid(decoded) {
				return string(decoded)
			}
		}
	}
	return strings.ToValidUTF8(string(raw), string(utf8.RuneError))
}
