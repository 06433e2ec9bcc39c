package server

import (
	"bytes"
	"net/http"
	"strings"

	"git.home.luguber.info/inful/assetpipe/internal/livereload"
)

// injectLiveReload buffers HTML responses and adds the reload client
// before </body>. Non-HTML and oversized responses pass through untouched.
func injectLiveReload(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inj := &injector{ResponseWriter: w, statusCode: http.StatusOK, maxSize: 2 << 20}
		next.ServeHTTP(inj, r)
		inj.finalize()
	})
}

type injector struct {
	http.ResponseWriter
	statusCode    int
	buffer        []byte
	headerWritten bool
	passthrough   bool
	maxSize       int
}

func (l *injector) WriteHeader(code int) {
	l.statusCode = code
	if l.passthrough {
		l.ResponseWriter.WriteHeader(code)
		l.headerWritten = true
	}
}

func (l *injector) Write(data []byte) (int, error) {
	if !l.headerWritten && !l.passthrough && l.buffer == nil {
		contentType := l.Header().Get("Content-Type")
		if l.statusCode != http.StatusOK || !strings.Contains(contentType, "text/html") {
			l.passthrough = true
			l.ResponseWriter.WriteHeader(l.statusCode)
			l.headerWritten = true
			return l.ResponseWriter.Write(data)
		}
		l.buffer = make([]byte, 0, 64*1024)
	}

	if l.passthrough {
		return l.ResponseWriter.Write(data)
	}

	if len(l.buffer)+len(data) > l.maxSize {
		l.passthrough = true
		l.Header().Del("Content-Length")
		l.ResponseWriter.WriteHeader(l.statusCode)
		l.headerWritten = true
		if len(l.buffer) > 0 {
			if _, err := l.ResponseWriter.Write(l.buffer); err != nil {
				return 0, err
			}
		}
		return l.ResponseWriter.Write(data)
	}

	l.buffer = append(l.buffer, data...)
	return len(data), nil
}

func (l *injector) finalize() {
	if l.passthrough || len(l.buffer) == 0 {
		if !l.headerWritten {
			l.ResponseWriter.WriteHeader(l.statusCode)
		}
		return
	}

	snippet := []byte(livereload.Snippet)
	var out []byte
	if i := bytes.LastIndex(bytes.ToLower(l.buffer), []byte("</body>")); i >= 0 {
		out = make([]byte, 0, len(l.buffer)+len(snippet))
		out = append(out, l.buffer[:i]...)
		out = append(out, snippet...)
		out = append(out, l.buffer[i:]...)
	} else {
		out = append(l.buffer, snippet...)
	}

	l.Header().Del("Content-Length")
	l.ResponseWriter.WriteHeader(l.statusCode)
	_, _ = l.ResponseWriter.Write(out)
}
