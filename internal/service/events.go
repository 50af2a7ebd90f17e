package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/matrixnet/internal/domain"
)

// emitter publishes bus events and audit rows. Failures are logged and never
// fail the calling operation.
type emitter struct {
	name   string
	bus    domain.SignalBus
	audit  domain.AuditStore
	logger *slog.Logger
}

func (e emitter) publish(ctx context.Context, channel, typ string, data any) {
	if e.bus == nil {
		return
	}
	payload, err := json.Marshal(domain.Event{Type: typ, At: time.Now().UTC(), Data: data})
	if err != nil {
		e.logger.WarnContext(ctx, e.name+": marshal event failed",
			slog.String("type", typ),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := e.bus.Publish(ctx, channel, payload); err != nil {
		e.logger.WarnContext(ctx, e.name+": publish event failed",
			slog.String("channel", channel),
			slog.String("type", typ),
			slog.String("error", err.Error()),
		)
	}
}

func (e emitter) record(ctx context.Context, event domain.AuditEvent, detail map[string]any) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Log(ctx, event, detail); err != nil {
		e.logger.WarnContext(ctx, e.name+": audit log failed",
			slog.String("event", string(event)),
			slog.String("error", err.Error()),
		)
	}
}
