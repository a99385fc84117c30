package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/poolbridge/internal/pool"
)

// Measurement names written by the client.
const (
	MeasurementPool    = "pool_status"
	MeasurementChannel = "channel_state"
)

// WriteSnapshot records one observation of the controller.
//
// The write is non-blocking; points are batched and sent asynchronously.
// A snapshot taken while the pool was offline records only the pool_status
// point, since its channel states are carried over from an earlier read.
//
// Parameters:
//   - cfg: Configuration the snapshot was resolved against (may be nil)
//   - snap: The snapshot; its FetchedAt becomes the point timestamp
func (c *Client) WriteSnapshot(cfg *pool.Configuration, snap pool.Snapshot) {
	if !c.IsConnected() || snap.IsZero() {
		return
	}
	for _, p := range snapshotPoints(cfg, snap) {
		c.write(p)
	}
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Example:
//
//	client.WritePoint("pump_runtime",
//	    map[string]string{"channel": "channel-1"},
//	    map[string]interface{}{"hours": 4.5},
//	    time.Now())
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}
	c.write(write.NewPoint(measurement, tags, fields, timestamp))
}

// snapshotPoints converts a snapshot into line-protocol points.
func snapshotPoints(cfg *pool.Configuration, snap pool.Snapshot) []*write.Point {
	fields := map[string]interface{}{
		"connected": snap.Connected,
	}
	if snap.Temperature != nil {
		fields["temperature"] = *snap.Temperature
	}
	if snap.ActiveFavourite != pool.NoFavourite {
		fields["active_favourite"] = snap.ActiveFavourite
	}
	points := []*write.Point{write.NewPoint(MeasurementPool, nil, fields, snap.FetchedAt)}

	if !snap.Connected {
		return points
	}
	for _, st := range snap.Channels() {
		if !st.Reported {
			continue
		}
		tags := map[string]string{"channel": string(st.ID)}
		fields := map[string]interface{}{
			"mode_code":  st.ModeCode,
			"mode_index": st.ModeIndex,
		}
		if cfg != nil {
			if d, ok := cfg.Channel(st.ID); ok {
				tags["kind"] = string(d.Kind)
				fields["mode"] = d.Modes.Label(st.ModeIndex)
			}
		}
		if st.Setpoint != nil {
			fields["setpoint"] = *st.Setpoint
		}
		if st.SpaSetpoint != nil {
			fields["spa_setpoint"] = *st.SpaSetpoint
		}
		if st.Effect != nil {
			fields["effect"] = *st.Effect
		}
		points = append(points, write.NewPoint(MeasurementChannel, tags, fields, snap.FetchedAt))
	}
	return points
}
