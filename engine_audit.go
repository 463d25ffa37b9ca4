package tokenring

import (
	"context"
	"strconv"
)

const (
	auditEventTokenIssued          = "token_issued"
	auditEventIssueFailed          = "issue_failed"
	auditEventTokenRefreshed       = "token_refreshed"
	auditEventRefreshFailed        = "refresh_failed"
	auditEventRefreshRejected      = "refresh_rejected"
	auditEventRefreshReuseDetected = "refresh_reuse_detected"
	auditEventLogout               = "logout"
)

// auditTarget names the token lineage an event is about.
type auditTarget struct {
	userID   int64
	deviceID string
	jti      string
}

func targetOf(c Claims) auditTarget {
	return auditTarget{userID: c.UserID, deviceID: c.DeviceID, jti: c.TokenID}
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	target auditTarget,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		DeviceID:  target.deviceID,
		TokenID:   target.jti,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if target.userID != 0 {
		event.Subject = strconv.FormatInt(target.userID, 10)
	}
	if err != nil {
		event.Error = KindOf(err).String()
	}

	e.audit.Emit(ctx, event)
}
