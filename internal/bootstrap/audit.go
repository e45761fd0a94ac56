package bootstrap

import "context"

type AuditLog struct {
	Action  string
	Message string
	Meta    map[string]any
}

// AuditLogger records operational events that must survive even when the
// structured log stream is sampled or dropped.
type AuditLogger interface {
	Log(ctx context.Context, entry AuditLog)
}
