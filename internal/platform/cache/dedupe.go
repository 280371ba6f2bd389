package cache

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Deduper collapses concurrent calls that share a logical operation key
// into a single execution; every caller receives the same result. The key
// is released when the operation settles (success or failure), so a later
// call runs fresh.
type Deduper struct {
	group singleflight.Group
}

func NewDeduper() *Deduper {
	return &Deduper{}
}

// Do runs fn under key, sharing any in-flight execution for the same key.
func (d *Deduper) Do(ctx context.Context, key string, fn func(ctx context.Context) (any, error)) (any, error) {
	v, err, _ := d.group.Do(key, func() (any, error) {
		return fn(ctx)
	})
	return v, err
}
