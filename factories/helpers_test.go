package factories

import (
	"context"

	"voicerelay/handlers/channel"
	"voicerelay/metrics"
)

type nopEventHandler struct{}

func (nopEventHandler) Handle(context.Context, channel.Channel, channel.InboundEvent) error {
	return nil
}

func metricsConfig(addr string) metrics.MetricsConfig {
	return metrics.MetricsConfig{Addr: addr}
}
