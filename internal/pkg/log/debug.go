// nolint:forbidigo // allow usage of the "zap" package
package log

import (
	"strings"
	"sync"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

// DebugLogger returns logs as string in tests.
type DebugLogger interface {
	Logger
	// AllMessages returns all messages in the "LEVEL  message" format, one per line.
	AllMessages() string
	InfoMessages() string
	WarnAndErrorMessages() string
	ErrorMessages() string
	// AllMessagesJSON returns all messages encoded as JSON objects, one per line.
	AllMessagesJSON() string
	Truncate()
	AssertJSONMessages(t assert.TestingT, expected string, msgAndArgs ...any) bool
}

type debugLogger struct {
	*zapLogger
	store *debugStore
}

type debugStore struct {
	lock    sync.Mutex
	encoder zapcore.Encoder
	entries []debugEntry
}

type debugEntry struct {
	level   zapcore.Level
	message string
	json    string
}

func NewDebugLogger() DebugLogger {
	store := &debugStore{
		encoder: zapcore.NewJSONEncoder(zapcore.EncoderConfig{
			LevelKey:    "level",
			MessageKey:  "message",
			LineEnding:  "",
			EncodeLevel: zapcore.LowercaseLevelEncoder,
		}),
	}
	return &debugLogger{
		zapLogger: loggerFromZapCore(NewCallbackCore(store.write)),
		store:     store,
	}
}

func (s *debugStore) write(entry zapcore.Entry, fields []zapcore.Field) {
	s.lock.Lock()
	defer s.lock.Unlock()

	buf, err := s.encoder.EncodeEntry(entry, fields)
	if err != nil {
		panic(err)
	}
	s.entries = append(s.entries, debugEntry{level: entry.Level, message: entry.Message, json: buf.String()})
	buf.Free()
}

func (s *debugStore) messages(filter func(zapcore.Level) bool, json bool) string {
	s.lock.Lock()
	defer s.lock.Unlock()

	var out strings.Builder
	for _, e := range s.entries {
		if !filter(e.level) {
			continue
		}
		if json {
			out.WriteString(e.json)
		} else {
			out.WriteString(e.level.CapitalString())
			out.WriteString("  ")
			out.WriteString(e.message)
		}
		out.WriteString("\n")
	}
	return out.String()
}

func (l *debugLogger) AllMessages() string {
	return l.store.messages(func(zapcore.Level) bool { return true }, false)
}

func (l *debugLogger) InfoMessages() string {
	return l.store.messages(func(v zapcore.Level) bool { return v == InfoLevel }, false)
}

func (l *debugLogger) WarnAndErrorMessages() string {
	return l.store.messages(func(v zapcore.Level) bool { return v == WarnLevel || v == ErrorLevel }, false)
}

func (l *debugLogger) ErrorMessages() string {
	return l.store.messages(func(v zapcore.Level) bool { return v == ErrorLevel }, false)
}

func (l *debugLogger) AllMessagesJSON() string {
	return l.store.messages(func(zapcore.Level) bool { return true }, true)
}

func (l *debugLogger) Truncate() {
	l.store.lock.Lock()
	defer l.store.lock.Unlock()
	l.store.entries = nil
}

func (l *debugLogger) AssertJSONMessages(t assert.TestingT, expected string, msgAndArgs ...any) bool {
	return AssertJSONMessages(t, expected, l.AllMessagesJSON(), msgAndArgs...)
}
