package ext4

import "github.com/sirupsen/logrus"

// log is the package-level logger. By default it emits only Warn and
// above, so the Debug messages on the happy path stay quiet, matching the
// rest of the diskfs family's convention of a library staying quiet on the
// happy path; callers that want visibility can call SetLogger.
var log = logrus.New()

func init() {
	log.SetLevel(logrus.WarnLevel)
}

// SetLogger installs l as the package logger, replacing the default
// Warn-level logrus instance.
func SetLogger(l *logrus.Logger) {
	if l != nil {
		log = l
	}
}

type logrusFields = logrus.Fields
