package cmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	deliverylog "github.com/dripflow/dripflow/pkg/delivery/log"
	"github.com/dripflow/dripflow/pkg/log"
	"github.com/dripflow/dripflow/pkg/subscriber/memory"
)

func TestNewSubscriberProvider_MemoryURL(t *testing.T) {
	provider := NewSubscriberProvider(context.Background(), "memory://")

	assert.IsType(t, &memory.Provider{}, provider)
}

func TestNewSender_LogChannel(t *testing.T) {
	sender := NewSender("log", log.NewTestLogger())

	assert.IsType(t, &deliverylog.Sender{}, sender)
}

func TestNewSender_UnknownChannelPanics(t *testing.T) {
	assert.Panics(t, func() {
		NewSender("smtp", log.NewTestLogger())
	})
}
