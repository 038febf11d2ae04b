package router

import (
	"errors"

	"go.uber.org/zap"

	"github.com/Prasannaverse13/ArtChainCollective/internal/observability"
	"github.com/Prasannaverse13/ArtChainCollective/internal/session"
)

// Category classifies a contained failure.
type Category = observability.Category

const (
	CategoryMalformed    = observability.CategoryMalformed
	CategoryUnregistered = observability.CategoryUnregistered
	CategoryDelivery     = observability.CategoryDelivery
	CategoryPersistence  = observability.CategoryPersistence
	CategoryTransport    = observability.CategoryTransport
)

var errNotJoined = errors.New("session has not joined a room")

// Report logs a contained failure on the session's logger, or the router's
// when s is nil, and counts it by category.
func (r *Router) Report(s *session.Session, c Category, err error, fields ...zap.Field) {
	logger := r.logger
	if s != nil {
		logger = s.Logger()
	}
	r.metrics.Report(logger, c, err, fields...)
}
