package notify

import (
	"context"
	"errors"

	"github.com/davidroman0O/studioflow/internal/types"
	"github.com/davidroman0O/studioflow/pkg/logs"
)

var ErrNotConfigured = errors.New("email not configured")

type Template string

const (
	TemplateVideoComplete  Template = "video_complete"
	TemplateVideoFailed    Template = "video_failed"
	TemplateAvatarComplete Template = "avatar_complete"
)

// Data is what templates can reference.
type Data struct {
	UserName      string
	AvatarName    string
	VideoURL      string
	ThumbnailURL  string
	PreviewImages []string
	ErrorMessage  string
	RecordID      string
}

type Message struct {
	To       string
	Template Template
	Language types.Language
	Data     Data
}

// Dispatcher sends one message.
type Dispatcher interface {
	Send(ctx context.Context, msg Message) error
}

// Recorder is told about every send attempt.
type Recorder interface {
	Notification(template string, err error)
}

// BestEffort sends msg and swallows the outcome. A message without a
// recipient is skipped.
func BestEffort(ctx context.Context, logger logs.Logger, d Dispatcher, rec Recorder, msg Message) {
	if msg.To == "" {
		logger.Debug(ctx, "notification skipped, no recipient", "template", msg.Template, "record_id", msg.Data.RecordID)
		return
	}
	err := d.Send(ctx, msg)
	if rec != nil {
		rec.Notification(string(msg.Template), err)
	}
	if err != nil {
		logger.Warn(ctx, "notification failed", "template", msg.Template, "record_id", msg.Data.RecordID, "error", err)
		return
	}
	logger.Info(ctx, "notification sent", "template", msg.Template, "record_id", msg.Data.RecordID)
}

// Noop stands in when no provider is configured.
type Noop struct {
	Logger logs.Logger
}

func (n Noop) Send(ctx context.Context, msg Message) error {
	if n.Logger != nil {
		n.Logger.Warn(ctx, "email not configured, dropping message", "template", msg.Template, "to", msg.To)
	}
	return ErrNotConfigured
}
