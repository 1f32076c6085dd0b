package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	maxLogSizeMB  = 5
	maxLogBackups = 5
)

// Loggers holds the process-wide logger handles. App goes to stdout
// and the rolling app log; Error additionally lands in the rolling
// error log.
type Loggers struct {
	App   *log.Logger
	Error *log.Logger

	appFile *lumberjack.Logger
	errFile *lumberjack.Logger
}

// New builds the app and error loggers writing under dir. All output
// passes through the redactor before hitting any sink.
func New(dir string) *Loggers {
	appFile := &lumberjack.Logger{
		Filename:   filepath.Join(dir, "app.log"),
		MaxSize:    maxLogSizeMB,
		MaxBackups: maxLogBackups,
	}
	errFile := &lumberjack.Logger{
		Filename:   filepath.Join(dir, "error.log"),
		MaxSize:    maxLogSizeMB,
		MaxBackups: maxLogBackups,
	}

	appOut := NewRedactor(io.MultiWriter(os.Stdout, appFile))
	errOut := NewRedactor(io.MultiWriter(os.Stdout, appFile, errFile))

	return &Loggers{
		App:     log.New(appOut, "[bloxchat] ", log.LstdFlags),
		Error:   log.New(errOut, "[bloxchat] ERROR ", log.LstdFlags),
		appFile: appFile,
		errFile: errFile,
	}
}

func (l *Loggers) Close() error {
	if l.appFile != nil {
		l.appFile.Close()
	}
	if l.errFile != nil {
		return l.errFile.Close()
	}
	return nil
}

var redactPatterns = []*regexp.Regexp{
	// Authorization header values
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-._~+/]+=*`),
	// JWT-shaped strings
	regexp.MustCompile(`\beyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]*`),
	// UUID-shaped job identifiers
	regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`),
	// long numeric ids
	regexp.MustCompile(`\b\d{15,}\b`),
}

const redactedPlaceholder = "[REDACTED]"

type redactWriter struct {
	w io.Writer
}

// NewRedactor wraps w so that tokens, JWTs, UUIDs and long numeric ids
// are substituted before emission. log.Logger issues one Write per
// line, so patterns never straddle writes.
func NewRedactor(w io.Writer) io.Writer {
	return &redactWriter{w: w}
}

func (r *redactWriter) Write(p []byte) (int, error) {
	out := p
	for _, pattern := range redactPatterns {
		out = pattern.ReplaceAll(out, []byte(redactedPlaceholder))
	}

	if _, err := r.w.Write(out); err != nil {
		return 0, err
	}

	// report the original length so log.Logger never sees a short write
	return len(p), nil
}
