// Package history records agent position updates as time-series points
// so movement can be queried and played back later.
package history

import (
	"context"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/fieldtrack/tracker/internal/config"
	"github.com/fieldtrack/tracker/internal/model"
)

const measurement = "agent_position"

type History struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

func NewInflux(cfg *config.Config) *History {
	client := influxdb2.NewClient(cfg.InfluxURL, cfg.InfluxToken)
	return &History{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.InfluxOrg, cfg.InfluxBucket),
	}
}

func (h *History) Close() {
	if h != nil && h.client != nil {
		h.client.Close()
	}
}

// Record writes one position point. Updates without coordinates carry no
// position information and are skipped.
func (h *History) Record(ctx context.Context, ev model.LocationUpdate, receivedAt time.Time) error {
	if ev.Latitude == nil || ev.Longitude == nil {
		return nil
	}
	return h.writeAPI.WritePoint(ctx, buildPoint(ev, receivedAt))
}

func buildPoint(ev model.LocationUpdate, receivedAt time.Time) *write.Point {
	tags := map[string]string{"agentId": ev.AgentID}
	if ev.Status != "" {
		tags["connectionStatus"] = ev.Status
	}

	fields := map[string]interface{}{
		"latitude":  *ev.Latitude,
		"longitude": *ev.Longitude,
	}
	if ev.Accuracy != nil {
		fields["accuracy"] = *ev.Accuracy
	}
	if ev.BatteryLevel != nil {
		fields["batteryLevel"] = float64(*ev.BatteryLevel)
	}
	if ev.IsCharging != nil {
		fields["isCharging"] = *ev.IsCharging
	}
	if ev.IsOnline != nil {
		fields["isOnline"] = *ev.IsOnline
	}

	return write.NewPoint(measurement, tags, fields, receivedAt)
}
