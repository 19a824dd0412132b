package events

import (
	"fmt"
	"strings"

	"github.com/featflow/featflow/internal/common/config"
	"github.com/featflow/featflow/internal/common/logger"
	"github.com/featflow/featflow/internal/events/bus"
)

// Provide builds the configured event bus: NATS when a URL is configured,
// the in-memory bus otherwise. The returned cleanup closes the bus.
func Provide(cfg config.NATSConfig, log *logger.Logger) (bus.EventBus, func() error, error) {
	if strings.TrimSpace(cfg.URL) != "" {
		natsBus, err := bus.NewNATSEventBus(cfg, log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize NATS event bus: %w", err)
		}
		return natsBus, func() error { natsBus.Close(); return nil }, nil
	}

	memBus := bus.NewMemoryEventBus(log)
	return memBus, func() error { memBus.Close(); return nil }, nil
}
