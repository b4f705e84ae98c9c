package log

import (
	"context"
	"log/slog"
)

// SlogAdapter prints protocol events through an slog.Logger. Error events
// go out at warn level, everything else at debug level.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates an adapter writing to logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event.
func (a *SlogAdapter) Log(event Event) {
	level := slog.LevelDebug
	if event.Error != nil {
		level = slog.LevelWarn
	}
	ctx := context.Background()
	if !a.logger.Enabled(ctx, level) {
		return
	}

	attrs := []slog.Attr{
		slog.String("conn_id", event.ConnectionID),
		slog.String("role", event.LocalRole.String()),
		slog.String("direction", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
	}
	if event.Device != "" {
		attrs = append(attrs, slog.String("device", event.Device))
	}
	attrs = append(attrs, payloadAttrs(event)...)

	a.logger.LogAttrs(ctx, level, "iiod "+event.Category.String(), attrs...)
}

func payloadAttrs(event Event) []slog.Attr {
	switch {
	case event.Frame != nil:
		return []slog.Attr{
			slog.Int("frame_size", event.Frame.Size),
			slog.Bool("truncated", event.Frame.Truncated),
		}

	case event.Command != nil:
		cmd := event.Command
		attrs := []slog.Attr{
			slog.Uint64("client_id", uint64(cmd.ClientID)),
			slog.String("op", cmd.Op.String()),
			slog.Uint64("dev", uint64(cmd.Dev)),
			slog.Int64("code", int64(cmd.Code)),
		}
		if cmd.PayloadSize > 0 {
			attrs = append(attrs, slog.Int("payload_size", cmd.PayloadSize))
		}
		if cmd.ProcessingTime != nil {
			attrs = append(attrs, slog.Duration("processing_time", *cmd.ProcessingTime))
		}
		return attrs

	case event.Text != nil:
		attrs := []slog.Attr{slog.String("line", event.Text.Line)}
		if event.Text.Result != nil {
			attrs = append(attrs, slog.Int64("result", *event.Text.Result))
		}
		return attrs

	case event.StateChange != nil:
		sc := event.StateChange
		attrs := []slog.Attr{
			slog.String("entity", sc.Entity.String()),
			slog.String("old_state", sc.OldState),
			slog.String("new_state", sc.NewState),
		}
		if sc.Reason != "" {
			attrs = append(attrs, slog.String("reason", sc.Reason))
		}
		return attrs

	case event.Error != nil:
		attrs := []slog.Attr{
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
			slog.String("error_context", event.Error.Context),
		}
		if event.Error.Code != nil {
			attrs = append(attrs, slog.Int("error_code", *event.Error.Code))
		}
		return attrs
	}
	return nil
}

var _ Logger = (*SlogAdapter)(nil)
