// Package ops provides structured logging for the controller engine,
// wrapping logrus the way go/ops does for the data plane: a Publisher
// interface plus an EntityRef attached to every line so that log lines
// can be correlated back to the catalog entity that produced them.
package ops

import (
	"github.com/estuary/flow-controller/internal/models"
	"github.com/sirupsen/logrus"
)

// EntityRef identifies the catalog entity a log line or alert concerns,
// mirroring go/ops's ShardRef.
type EntityRef struct {
	Name models.Name
	Type models.CatalogType
}

// Publisher publishes structured log lines tagged with an EntityRef.
type Publisher interface {
	Log(ref EntityRef, level logrus.Level, message string, fields logrus.Fields)
	Ref() EntityRef
}

// LogrusPublisher is the production Publisher, writing through the
// standard logrus logger.
type LogrusPublisher struct {
	ref EntityRef
}

var _ Publisher = LogrusPublisher{}

// NewLogrusPublisher returns a Publisher bound to ref.
func NewLogrusPublisher(ref EntityRef) LogrusPublisher { return LogrusPublisher{ref: ref} }

// Ref implements Publisher.
func (p LogrusPublisher) Ref() EntityRef { return p.ref }

// Log implements Publisher.
func (p LogrusPublisher) Log(ref EntityRef, level logrus.Level, message string, fields logrus.Fields) {
	if fields == nil {
		fields = logrus.Fields{}
	}
	fields["catalogName"] = string(ref.Name)
	fields["catalogType"] = string(ref.Type)
	logrus.StandardLogger().WithFields(fields).Log(level, message)
}

// Info is a convenience wrapper logging at info level against p's own ref.
func Info(p Publisher, message string, fields logrus.Fields) {
	p.Log(p.Ref(), logrus.InfoLevel, message, fields)
}

// Warn is a convenience wrapper logging at warn level against p's own ref.
func Warn(p Publisher, message string, fields logrus.Fields) {
	p.Log(p.Ref(), logrus.WarnLevel, message, fields)
}

// Error is a convenience wrapper logging at error level against p's own ref.
func Error(p Publisher, message string, fields logrus.Fields) {
	p.Log(p.Ref(), logrus.ErrorLevel, message, fields)
}
