package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"lab-dispatch-service/internal/domain"
)

// LocationSample is one device position fix.
type LocationSample struct {
	Coordinates domain.Coordinates
	AccuracyM   float64
}

// LocationSource supplies the current device position.
type LocationSource func(ctx context.Context) (LocationSample, error)

type locationUpdate struct {
	DriverID    string             `json:"driverId"`
	RouteID     string             `json:"routeId"`
	Coordinates domain.Coordinates `json:"coordinates"`
	Accuracy    float64            `json:"accuracy"`
	Timestamp   time.Time          `json:"timestamp"`
}

// TrackLocation samples the device position on a fixed interval and sends
// UPDATE_LOCATION frames for the driver/route pair. Sampling errors are
// logged and the tick skipped. The returned handle cancels the loop; it is
// safe to call more than once.
func (c *Client) TrackLocation(driverID, routeID string, every time.Duration, source LocationSource) (stop func()) {
	done := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				sample, err := source(context.Background())
				if err != nil {
					c.log.Warn().Err(err).Str("driver_id", driverID).Msg("location sample failed")
					continue
				}

				payload, err := json.Marshal(locationUpdate{
					DriverID:    driverID,
					RouteID:     routeID,
					Coordinates: sample.Coordinates,
					Accuracy:    sample.AccuracyM,
					Timestamp:   time.Now().UTC(),
				})
				if err != nil {
					continue
				}
				c.send(ClientMessage{Action: ActionUpdateLocation, Data: payload})
			}
		}
	}()

	return func() {
		once.Do(func() { close(done) })
	}
}
