package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ericogr/templogger/pkg/config"
	"github.com/ericogr/templogger/pkg/lineproto"
	"github.com/ericogr/templogger/pkg/metrics"
	"github.com/ericogr/templogger/pkg/notify"
	"github.com/ericogr/templogger/pkg/output"
	"github.com/ericogr/templogger/pkg/output/console"
	"github.com/ericogr/templogger/pkg/output/influx"
	"github.com/ericogr/templogger/pkg/output/mqtt"
	"github.com/ericogr/templogger/pkg/output/nats"
	"github.com/ericogr/templogger/pkg/sensor"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	msgSent          = "Sent"
	msgConnectFailed = "Failed to connect to the server. Wrong user/password?"
	msgSMTPError     = "SMTP error occurred: "
)

type app struct {
	cfg    config.Config
	bus    sensor.Bus
	stdout io.Writer
	log    log.FieldLogger
	now    func() time.Time

	interfaces  notify.InterfaceLister
	newNotifier func(config.SMTPConfig) *notify.Notifier
}

type outputEntry struct {
	Name   string
	Output output.Output
}

// targets returns ids, or every attached sensor when ids is empty.
func (a *app) targets(ids []string) ([]string, error) {
	if len(ids) > 0 {
		return ids, nil
	}
	return a.bus.Sensors()
}

// read prints one record per readable sensor and logs the others.
func (a *app) read(ids []string) error {
	ids, err := a.targets(ids)
	if err != nil {
		return err
	}
	enc, err := lineproto.NewEncoder(a.cfg.Decimals, a.cfg.Timestamp)
	if err != nil {
		return err
	}
	entries, err := a.initOutputs(enc, ids)
	if err != nil {
		return err
	}
	defer closeOutputs(entries, a.log)

	results := a.bus.ReadAll(ids)
	readings := make([]sensor.Reading, 0, len(results))
	for _, r := range results {
		if !r.OK() {
			a.log.WithField("sensor_id", r.SensorID).WithError(r.Err).Error("read failed")
			continue
		}
		readings = append(readings, r.Reading)
	}

	var failed []string
	for _, e := range entries {
		if err := e.Output.Publish(readings); err != nil {
			a.log.WithField("output", e.Name).WithError(err).Error("publish failed")
			failed = append(failed, e.Name)
		}
	}

	if a.cfg.MetricsFile != "" {
		m := metrics.New()
		m.Observe(results, a.clock())
		if err := m.WriteTextfile(a.cfg.MetricsFile); err != nil {
			return err
		}
	}

	if len(failed) > 0 {
		return errors.Errorf("publish failed for %s", strings.Join(failed, ", "))
	}
	return nil
}

// configure sets the resolution of every target sensor, logging failures.
func (a *app) configure(ids []string) error {
	inc, err := sensor.Increment(a.cfg.Resolution)
	if err != nil {
		return err
	}
	ids, err = a.targets(ids)
	if err != nil {
		return err
	}
	for _, r := range a.bus.SetResolution(ids, a.cfg.Resolution) {
		if !r.OK() {
			a.log.WithField("sensor_id", r.SensorID).WithError(r.Err).Error("set resolution failed")
			continue
		}
		fmt.Fprintf(a.stdout, "Sensor %s resolution set to %d which is an increment of %g*C\n", r.SensorID, a.cfg.Resolution, inc)
	}
	return nil
}

// send mails the host addresses. The outcome of the SMTP exchange is printed,
// not returned: only a failure to list the interfaces is an error.
func (a *app) send(ctx context.Context) error {
	ifaces, err := notify.Addresses(ctx, a.interfaces)
	if err != nil {
		return err
	}
	newNotifier := a.newNotifier
	if newNotifier == nil {
		newNotifier = notify.NewNotifier
	}

	var connErr *notify.ConnectError
	switch err := newNotifier(a.cfg.SMTP).Send(ifaces); {
	case err == nil:
		fmt.Fprintln(a.stdout, msgSent)
	case errors.As(err, &connErr):
		a.log.WithError(err).Debug("smtp session failed")
		fmt.Fprintln(a.stdout, msgConnectFailed)
	default:
		fmt.Fprintln(a.stdout, msgSMTPError+err.Error())
	}
	return nil
}

// initOutputs opens the configured outputs in order, console when none is
// configured. Already opened outputs are closed if a later one fails.
func (a *app) initOutputs(enc lineproto.Encoder, ids []string) ([]outputEntry, error) {
	names := a.cfg.Outputs
	if len(names) == 0 {
		names = []string{config.OutputConsole}
	}
	entries := make([]outputEntry, 0, len(names))
	for _, name := range names {
		var (
			o   output.Output
			err error
		)
		switch strings.ToLower(name) {
		case config.OutputConsole:
			o = console.NewConsole(a.stdout, enc)
		case config.OutputMQTT:
			o, err = mqtt.NewMQTT(a.cfg.MQTT, ids)
		case config.OutputInflux:
			o, err = influx.NewInflux(a.cfg.Influx, enc)
		case config.OutputNATS:
			o, err = nats.NewNats(a.cfg.NATS, enc)
		default:
			err = errors.Errorf("unknown output %q", name)
		}
		if err != nil {
			closeOutputs(entries, a.log)
			return nil, errors.Wrapf(err, "init output %s", name)
		}
		entries = append(entries, outputEntry{Name: name, Output: o})
	}
	return entries, nil
}

func closeOutputs(entries []outputEntry, l log.FieldLogger) {
	for _, e := range entries {
		if err := e.Output.Close(); err != nil {
			l.WithField("output", e.Name).WithError(err).Warn("close failed")
		}
	}
}

func (a *app) clock() time.Time {
	if a.now != nil {
		return a.now()
	}
	return time.Now()
}
