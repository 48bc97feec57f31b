package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/ledgerflow/conductor/pkg/channels/gochannel"
	"github.com/ledgerflow/conductor/pkg/channels/kafka"
)

// NewChannel creates the watermill publisher and subscriber for the chosen
// provider. The gochannel provider only works inside a single process; kafka
// is the multi-process deployment.
func NewChannel(provider string, logger *slog.Logger) (message.Publisher, message.Subscriber, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "kafka":
		return kafka.CreateChannel(wmLogger, "conductor")
	case "gochannel", "":
		return gochannel.CreateChannel(wmLogger)
	default:
		return nil, nil, fmt.Errorf("unsupported event bus provider: %s", provider)
	}
}
