package cmd

import (
	"log/slog"

	"github.com/dripflow/dripflow/pkg/delivery"
	deliverylog "github.com/dripflow/dripflow/pkg/delivery/log"
)

// NewSender creates the delivery channel for send_email nodes. The "log"
// channel records sends instead of delivering them and is meant for local
// development; real deployments plug an ESP-backed channel in here.
func NewSender(channel string, logger *slog.Logger) delivery.Sender {
	switch channel {
	case "log":
		return deliverylog.NewSender(logger)
	default:
		panic("Unsupported delivery channel: " + channel)
	}
}
