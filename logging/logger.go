package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is satisfied by both *logrus.Logger and the entries returned from
// WithField, so components can carry pre-scoped loggers around.
type Logger interface {
	logrus.FieldLogger
}

func New() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.JSONFormatter{})
	return l
}
