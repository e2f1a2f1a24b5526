package substrate

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the subset of logrus's interface the engine depends on,
// satisfied directly by *logrus.Logger and by *logrus.Entry.
type Logger interface {
	WithFields(fields logrus.Fields) *logrus.Entry
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// defaultLogger mirrors the teacher's pipe.go defaultLogger: text
// formatted, warn level, stderr, no hooks registered until the caller
// attaches its own.
var defaultLogger Logger = &logrus.Logger{
	Out:       os.Stderr,
	Formatter: new(logrus.TextFormatter),
	Hooks:     make(logrus.LevelHooks),
	Level:     logrus.WarnLevel,
}
