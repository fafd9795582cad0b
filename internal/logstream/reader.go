package logstream

import (
	"bufio"
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"

	"blockyard/internal/domain"
)

// MaxLineBytes bounds a single captured line; longer lines are truncated.
const MaxLineBytes = 1 << 20

var severityRe = regexp.MustCompile(`\[(?:[^\]]*[\s/])?(TRACE|DEBUG|INFO|WARN|WARNING|ERROR|SEVERE|FATAL)\]`)

// Reader drains process output streams into a Buffer and an optional sink.
type Reader struct {
	buf    *Buffer
	logger *zap.Logger

	sinkMu sync.Mutex
	sink   io.Writer
}

// NewReader creates a reader appending into buf. sink may be nil.
func NewReader(buf *Buffer, sink io.Writer, logger *zap.Logger) *Reader {
	return &Reader{buf: buf, sink: sink, logger: logger}
}

// Drain reads src line by line until EOF. It never stops consuming early, so
// the child process never blocks on a full pipe.
func (r *Reader) Drain(src io.Reader, stream domain.Stream) error {
	br := bufio.NewReaderSize(src, 64*1024)
	for {
		line, err := readLine(br)
		if len(line) > 0 || err == nil {
			r.buf.Append(stream, Severity(line, stream), line)
			r.writeSink(line)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				return nil
			}
			return err
		}
	}
}

func (r *Reader) writeSink(line string) {
	if r.sink == nil {
		return
	}
	r.sinkMu.Lock()
	defer r.sinkMu.Unlock()
	if _, err := io.WriteString(r.sink, line+"\n"); err != nil {
		r.logger.Debug("Failed to write server log file", zap.Error(err))
	}
}

func readLine(br *bufio.Reader) (string, error) {
	var b []byte
	for {
		chunk, err := br.ReadSlice('\n')
		if room := MaxLineBytes - len(b); room > 0 {
			b = append(b, chunk[:min(len(chunk), room)]...)
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return strings.TrimRight(string(b), "\r\n"), err
	}
}

// Severity classifies a server output line. Untagged stderr lines are treated
// as warnings.
func Severity(text string, stream domain.Stream) domain.Severity {
	head := text
	if len(head) > 96 {
		head = head[:96]
	}
	if m := severityRe.FindStringSubmatch(head); m != nil {
		switch m[1] {
		case "TRACE", "DEBUG":
			return domain.SeverityDebug
		case "INFO":
			return domain.SeverityInfo
		case "WARN", "WARNING":
			return domain.SeverityWarn
		default:
			return domain.SeverityError
		}
	}
	if stream == domain.Stderr {
		return domain.SeverityWarn
	}
	return domain.SeverityInfo
}

// RotatingFile opens a size-rotated log file for captured server output.
func RotatingFile(path string, maxSizeMB, maxBackups, maxAgeDays int) (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    valOr(maxSizeMB, 10),
		MaxBackups: valOr(maxBackups, 5),
		MaxAge:     valOr(maxAgeDays, 7),
		Compress:   true,
	}, nil
}

func valOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
