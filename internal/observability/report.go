package observability

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category classifies a contained failure.
type Category string

const (
	// CategoryMalformed covers frames that fail decoding or payload validation.
	CategoryMalformed Category = "malformed"
	// CategoryUnregistered covers room-scoped messages from a session that has not joined.
	CategoryUnregistered Category = "unregistered"
	// CategoryDelivery covers frames that could not be enqueued for a recipient.
	CategoryDelivery Category = "delivery"
	// CategoryPersistence covers snapshot and roster store failures.
	CategoryPersistence Category = "persistence"
	// CategoryTransport covers connection-level read and write failures.
	CategoryTransport Category = "transport"
)

// Level is the log level failures of this category are reported at.
func (c Category) Level() zapcore.Level {
	switch c {
	case CategoryPersistence:
		return zapcore.ErrorLevel
	case CategoryMalformed, CategoryUnregistered:
		return zapcore.WarnLevel
	}
	return zapcore.DebugLevel
}

// Message is the log message failures of this category are reported with.
func (c Category) Message() string {
	switch c {
	case CategoryMalformed:
		return "malformed message dropped"
	case CategoryUnregistered:
		return "message from unjoined session dropped"
	case CategoryDelivery:
		return "delivery failed"
	case CategoryPersistence:
		return "store operation failed"
	}
	return "connection failed"
}

// Report is the single sink for contained failures: it counts err under its
// category and logs it on logger with a category field.
//
// Precondition: logger must be non-nil.
func (m *Metrics) Report(logger *zap.Logger, c Category, err error, fields ...zap.Field) {
	m.Errors.WithLabelValues(string(c)).Inc()
	if ce := logger.Check(c.Level(), c.Message()); ce != nil {
		ce.Write(append(fields, zap.String("category", string(c)), zap.Error(err))...)
	}
}
