package logrus

import (
	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/imgpipe"
)

// Logger adapts a *logrus.Entry to imgpipe.Logger.
type Logger struct{ E *logrus.Entry }

var _ imgpipe.Logger = Logger{}

func (l Logger) Debug(msg string, f imgpipe.Fields) { l.E.WithFields(logrus.Fields(f)).Debug(msg) }
func (l Logger) Info(msg string, f imgpipe.Fields)  { l.E.WithFields(logrus.Fields(f)).Info(msg) }
func (l Logger) Warn(msg string, f imgpipe.Fields)  { l.E.WithFields(logrus.Fields(f)).Warn(msg) }
func (l Logger) Error(msg string, f imgpipe.Fields) { l.E.WithFields(logrus.Fields(f)).Error(msg) }
