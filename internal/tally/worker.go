package tally

import (
	"context"
	"log/slog"

	"messgate/internal/queue"
)

// Incrementer is the write side of Store.
type Incrementer interface {
	Increment(ctx context.Context, day string, hostelID int64, category string) (int64, error)
}

// Recorder observes applied events.
type Recorder interface {
	RecordTally(ok bool)
}

// Worker applies meal.logged events to the tallies.
type Worker struct {
	store   Incrementer
	metrics Recorder
	log     *slog.Logger
}

// NewWorker builds a worker. metrics may be nil.
func NewWorker(store Incrementer, metrics Recorder, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{store: store, metrics: metrics, log: log}
}

// Run drains msgs until the channel closes or ctx ends. It returns the
// number of events applied.
func (w *Worker) Run(ctx context.Context, msgs <-chan queue.Message) int {
	applied := 0
	for {
		select {
		case <-ctx.Done():
			return applied
		case msg, ok := <-msgs:
			if !ok {
				return applied
			}
			if w.Handle(ctx, msg) {
				applied++
			}
		}
	}
}

// Handle applies one message and reports whether a tally changed.
func (w *Worker) Handle(ctx context.Context, msg queue.Message) bool {
	if msg.Type != queue.TypeMealLogged {
		w.log.Debug("ignoring message", slog.String("type", msg.Type))
		return false
	}
	evt, err := queue.DecodeMealLogged(msg)
	if err != nil {
		w.log.Warn("dropping event", slog.Any("error", err))
		w.record(false)
		return false
	}
	n, err := w.store.Increment(ctx, evt.Day, evt.HostelID, evt.Category)
	if err != nil {
		w.log.Error("tally update failed",
			slog.String("meal_record_id", evt.MealRecordID),
			slog.Int64("hostel_id", evt.HostelID),
			slog.Any("error", err),
		)
		w.record(false)
		return false
	}
	w.log.Debug("tally updated",
		slog.String("day", evt.Day),
		slog.Int64("hostel_id", evt.HostelID),
		slog.String("category", evt.Category),
		slog.Int64("count", n),
	)
	w.record(true)
	return true
}

func (w *Worker) record(ok bool) {
	if w.metrics != nil {
		w.metrics.RecordTally(ok)
	}
}
