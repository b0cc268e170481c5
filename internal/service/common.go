package service

import (
	"context"
	"math"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"subcontracting-service/internal/model"
)

// commissionFor computes the commission owed on a course price, rounded to
// cents half-up.
func commissionFor(price, rate float64) float64 {
	return math.Round(price*rate*100) / 100
}

// appendEvent writes an audit record. Failures are logged and swallowed: the
// audit trail never vetoes a transition that already happened.
func appendEvent(ctx context.Context, store CourseEventStore, log zerolog.Logger, courseID uuid.UUID, from, to model.CourseStatus, actor, detail string) {
	if store == nil {
		return
	}
	event := &model.CourseEvent{
		CourseID:   courseID,
		FromStatus: from,
		ToStatus:   to,
		Actor:      actor,
		Detail:     detail,
	}
	if err := store.Create(ctx, event); err != nil {
		log.Error().Err(err).
			Str("course_id", courseID.String()).
			Str("to_status", string(to)).
			Msg("failed to write course event")
	}
}
