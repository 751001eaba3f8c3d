package influx

import (
	"context"
	"time"

	"github.com/ericogr/templogger/pkg/config"
	"github.com/ericogr/templogger/pkg/lineproto"
	"github.com/ericogr/templogger/pkg/output"
	"github.com/ericogr/templogger/pkg/sensor"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/pkg/errors"
)

// InfluxOutput writes the line-protocol records to an InfluxDB v2 bucket.
// Timestamps, when present, are in milliseconds.
type InfluxOutput struct {
	client  influxdb2.Client
	writer  api.WriteAPIBlocking
	enc     lineproto.Encoder
	timeout time.Duration
}

func NewInflux(cfg config.InfluxConfig, enc lineproto.Encoder) (output.Output, error) {
	if cfg.URL == "" {
		return nil, errors.New("influx: url is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("influx: bucket is required")
	}
	opts := influxdb2.DefaultOptions().SetPrecision(time.Millisecond)
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &InfluxOutput{
		client:  client,
		writer:  client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		enc:     enc,
		timeout: timeout,
	}, nil
}

func (o *InfluxOutput) Publish(readings []sensor.Reading) error {
	if len(readings) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()
	if err := o.writer.WriteRecord(ctx, o.enc.EncodeAll(readings)...); err != nil {
		return errors.Wrap(err, "influx write")
	}
	return nil
}

func (o *InfluxOutput) Close() error {
	o.client.Close()
	return nil
}
