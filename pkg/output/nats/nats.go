package nats

import (
	"github.com/ericogr/templogger/pkg/config"
	"github.com/ericogr/templogger/pkg/lineproto"
	"github.com/ericogr/templogger/pkg/output"
	"github.com/ericogr/templogger/pkg/sensor"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

const defaultSubjectPrefix = "sensors"

// NatsOutput publishes each record on <prefix>.<sensor id>, so consumers can
// subscribe to "sensors.>".
type NatsOutput struct {
	nc     *nats.Conn
	prefix string
	enc    lineproto.Encoder
}

func NewNats(cfg config.NATSConfig, enc lineproto.Encoder) (output.Output, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url, nats.Name("templogger"))
	if err != nil {
		return nil, errors.Wrap(err, "nats connect")
	}
	return &NatsOutput{nc: nc, prefix: cfg.SubjectPrefix, enc: enc}, nil
}

func (n *NatsOutput) Publish(readings []sensor.Reading) error {
	for _, r := range readings {
		if err := n.nc.Publish(subject(n.prefix, r.SensorID), []byte(n.enc.Encode(r))); err != nil {
			return errors.Wrapf(err, "nats publish %s", r.SensorID)
		}
	}
	return errors.Wrap(n.nc.Flush(), "nats flush")
}

func (n *NatsOutput) Close() error {
	return n.nc.Drain()
}

func subject(prefix, id string) string {
	if prefix == "" {
		prefix = defaultSubjectPrefix
	}
	return prefix + "." + id
}
