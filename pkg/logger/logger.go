package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus to provide structured, field-carrying log entries.
type Logger struct {
	entry *logrus.Entry
}

// Init configures the global logrus settings. Output is JSON so log
// collection downstream can parse entries without custom formats.
func Init(level logrus.Level) {
	logrus.SetFormatter(&logrus.JSONFormatter{
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	logrus.SetOutput(os.Stdout)
	logrus.SetLevel(level)
}

// ParseLevel maps a config string to a logrus level, defaulting to info.
func ParseLevel(level string) logrus.Level {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return logrus.InfoLevel
	}
	return parsed
}

// New creates a Logger pre-seeded with the component name.
func New(component string) *Logger {
	return &Logger{
		entry: logrus.WithFields(logrus.Fields{
			"component": component,
		}),
	}
}

// WithField returns a Logger carrying an extra field on every entry.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

// WithDocument returns a Logger scoped to a single document's processing.
func (l *Logger) WithDocument(documentID string) *Logger {
	return &Logger{entry: l.entry.WithField("document_id", documentID)}
}

// WithError attaches an error to the next entry.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{entry: l.entry.WithError(err)}
}

func (l *Logger) Info(message string)  { l.entry.Info(message) }
func (l *Logger) Warn(message string)  { l.entry.Warn(message) }
func (l *Logger) Error(message string) { l.entry.Error(message) }
func (l *Logger) Debug(message string) { l.entry.Debug(message) }
func (l *Logger) Fatal(message string) { l.entry.Fatal(message) }
