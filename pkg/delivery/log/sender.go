// Package log provides a delivery sender that only logs sends. Used for
// local development and as the default channel when none is configured.
package log

import (
	"context"
	"log/slog"

	"github.com/dripflow/dripflow/pkg/delivery"
)

// Sender logs every send instead of delivering it.
type Sender struct {
	logger *slog.Logger
}

var _ delivery.Sender = (*Sender)(nil)

// NewSender creates a logging sender.
func NewSender(logger *slog.Logger) *Sender {
	return &Sender{logger: logger.With("module", "log_sender")}
}

func (s *Sender) Send(ctx context.Context, req delivery.SendRequest) error {
	s.logger.InfoContext(ctx, "Sending email",
		"subscriber_id", req.SubscriberID,
		"template_id", req.TemplateID,
		"variables", req.Variables,
	)

	return nil
}
