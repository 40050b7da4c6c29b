package updater

import (
	"context"
	"time"
)

// DefaultPollInterval is how often Run polls the controller.
const DefaultPollInterval = 10 * time.Millisecond

// Observer is called after every poll that changed the link state.
type Observer func(Snapshot)

// Run polls c every interval until ctx is done, then closes it. observe, if
// non-nil, is called on the polling goroutine after every established or lost
// transition and once before the first poll.
func Run(ctx context.Context, c *Controller, interval time.Duration, observe Observer) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if observe != nil {
		observe(c.Snapshot())
	}

	for {
		c.Handle()
		if observe != nil {
			switch c.last {
			case TransitionEstablished, TransitionLost:
				observe(c.Snapshot())
			}
		}

		select {
		case <-ctx.Done():
			return c.Close()
		case <-ticker.C:
		}
	}
}
