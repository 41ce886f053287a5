package notify

import (
	"context"
	"log/slog"
)

// LogNotifier writes notifications to the structured log. Used when SMTP is
// not configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, note Notification) error {
	n.logger.InfoContext(ctx, "notification",
		"trigger", string(note.Trigger),
		"subject_id", note.SubjectID,
		"edit_request_id", note.EditRequestID,
		"message", note.Message,
	)
	return nil
}
