// Package metrics exports the last read batch in the Prometheus text format,
// for the node_exporter textfile collector.
package metrics

import (
	"time"

	"github.com/ericogr/templogger/pkg/sensor"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Collector struct {
	registry    *prometheus.Registry
	temperature *prometheus.GaugeVec
	readErrors  *prometheus.CounterVec
	lastRead    prometheus.Gauge
}

func New() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Collector{
		registry: reg,
		temperature: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "templogger_temperature_celsius",
				Help: "Temperature of the last successful read",
			},
			[]string{"sensor_id"},
		),
		readErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "templogger_read_errors_total",
				Help: "Sensors whose read failed after every retry",
			},
			[]string{"sensor_id"},
		),
		lastRead: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "templogger_last_read_timestamp_seconds",
				Help: "Unix time the batch was read",
			},
		),
	}
}

// Observe records a batch of read results.
func (c *Collector) Observe(results []sensor.Result, now time.Time) {
	for _, r := range results {
		if r.Err != nil {
			c.readErrors.WithLabelValues(r.SensorID).Inc()
			continue
		}
		c.temperature.WithLabelValues(r.SensorID).Set(r.Reading.Celsius)
	}
	c.lastRead.Set(float64(now.Unix()))
}

// WriteTextfile atomically replaces path with the current metrics.
func (c *Collector) WriteTextfile(path string) error {
	return errors.Wrapf(prometheus.WriteToTextfile(path, c.registry), "write metrics to %s", path)
}
