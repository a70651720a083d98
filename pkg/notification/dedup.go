package notification

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// DefaultDedupWindow is how long a (execution, form) pair suppresses repeat
// notifications.
const DefaultDedupWindow = 30 * time.Minute

// Deduper suppresses duplicate form reminders using a Redis SET NX marker
// per (execution, form) pair.
type Deduper struct {
	client redis.UniversalClient
	window time.Duration
}

// NewDeduper creates a deduper with the default suppression window.
func NewDeduper(client redis.UniversalClient) *Deduper {
	return &Deduper{client: client, window: DefaultDedupWindow}
}

// NewDeduperWithWindow creates a deduper with an explicit window.
func NewDeduperWithWindow(client redis.UniversalClient, window time.Duration) *Deduper {
	return &Deduper{client: client, window: window}
}

// FirstDelivery reports whether this is the first notification for the pair
// inside the window, atomically marking it as delivered when it is.
func (d *Deduper) FirstDelivery(ctx context.Context, executionID, formName string) (bool, error) {
	key := fmt.Sprintf("vidaflow:notify:%s:%s", executionID, formName)

	first, err := d.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), d.window).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark notification delivery: %w", err)
	}

	return first, nil
}
