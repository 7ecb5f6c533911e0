package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/amanahq/flasharb/internal/domain"
)

// Event types emitted for execution outcomes.
const (
	EventCommitted = "execution.committed"
	EventReverted  = "execution.reverted"
	EventAborted   = "execution.aborted"
)

// executionEvent is the wire form published on the signal bus.
type executionEvent struct {
	ID        string `json:"id"`
	RouteID   string `json:"routeId"`
	Asset     string `json:"asset"`
	Status    string `json:"status"`
	NetPnL    int64  `json:"netPnl"`
	Reason    string `json:"reason,omitempty"`
	Completed int64  `json:"completedAt"` // Unix millis
}

// ExecutionEvents bridges terminal execution records to operator channels and
// the signal bus. Delivery is asynchronous so a slow webhook never holds up
// the execution path; Flush drains in-flight deliveries.
type ExecutionEvents struct {
	notifier *Notifier
	bus      domain.SignalBus
	channel  string
	timeout  time.Duration
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewExecutionEvents creates the bridge. bus may be nil to skip bus
// publishing; channel defaults to "flasharb:events".
func NewExecutionEvents(notifier *Notifier, bus domain.SignalBus, channel string, logger *slog.Logger) *ExecutionEvents {
	if channel == "" {
		channel = "flasharb:events"
	}
	return &ExecutionEvents{
		notifier: notifier,
		bus:      bus,
		channel:  channel,
		timeout:  10 * time.Second,
		logger:   logger.With(slog.String("component", "execution_events")),
	}
}

// ExecutionCompleted delivers the record's outcome in the background.
func (e *ExecutionEvents) ExecutionCompleted(rec domain.ExecutionRecord) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
		defer cancel()
		e.deliver(ctx, rec)
	}()
}

// Flush blocks until every in-flight delivery has finished.
func (e *ExecutionEvents) Flush() {
	e.wg.Wait()
}

func (e *ExecutionEvents) deliver(ctx context.Context, rec domain.ExecutionRecord) {
	event, title := describe(rec)

	if e.bus != nil {
		payload, err := json.Marshal(executionEvent{
			ID:        rec.ID,
			RouteID:   rec.Route.ID,
			Asset:     rec.Loan.Asset,
			Status:    string(rec.Status),
			NetPnL:    rec.NetPnL,
			Reason:    rec.Reason,
			Completed: rec.CompletedAt.UnixMilli(),
		})
		if err == nil {
			if err := e.bus.Publish(ctx, e.channel, payload); err != nil {
				e.logger.Warn("bus publish failed",
					slog.String("execution_id", rec.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	message := fmt.Sprintf("route %s, asset %s, net pnl %d base units", rec.Route.ID, rec.Loan.Asset, rec.NetPnL)
	if rec.Reason != "" {
		message += "\nreason: " + rec.Reason
	}
	if err := e.notifier.Notify(ctx, event, title, message); err != nil {
		e.logger.Warn("notification failed",
			slog.String("execution_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}
}

func describe(rec domain.ExecutionRecord) (event, title string) {
	switch rec.Status {
	case domain.StatusCommitted:
		return EventCommitted, fmt.Sprintf("Execution committed: %s", rec.ID)
	case domain.StatusReverted:
		return EventReverted, fmt.Sprintf("Execution reverted: %s", rec.ID)
	default:
		return EventAborted, fmt.Sprintf("Execution aborted: %s", rec.ID)
	}
}
