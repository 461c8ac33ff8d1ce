package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"coedit.org/internal/ids"
	"coedit.org/internal/obs"
)

type ctxKey string

const connIDKey ctxKey = "audit_conn_id"

// WithConnID attaches the client connection identifier to the context for
// audit logging.
func WithConnID(ctx context.Context, connID string) context.Context {
	connID = strings.TrimSpace(connID)
	if connID == "" {
		return ctx
	}
	return context.WithValue(ctx, connIDKey, connID)
}

// connIDFromContext extracts the audit connection id from context if present.
func connIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(connIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit log entry enriched with connection context. Every
// entry carries a unique lexicographically sortable id.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := map[string]any{
		"id":    ids.New(),
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"type":  "audit",
		"event": event,
	}
	if cid := connIDFromContext(ctx); cid != "" {
		entry["conn_id"] = cid
	}
	if len(fields) > 0 {
		copyFields := make(map[string]any, len(fields))
		for k, v := range fields {
			copyFields[k] = v
		}
		entry["fields"] = copyFields
	} else {
		entry["fields"] = map[string]any{}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}
