package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ericogr/templogger/pkg/config"
	"github.com/ericogr/templogger/pkg/notify"
	"github.com/ericogr/templogger/pkg/sensor"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const exitFailure = 2

func main() {
	log.SetOutput(os.Stderr)
	log.SetFormatter(&log.TextFormatter{DisableTimestamp: true})
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		return runDefault(stdout)
	}

	name := args[0]
	switch name {
	case config.CommandRead, config.CommandInit, config.CommandSend:
	case "-h", "-help", "--help", "help":
		usage(stderr)
		return 0
	default:
		fmt.Fprintf(stderr, "templogger: unknown command %q\n", name)
		usage(stderr)
		return exitFailure
	}

	cmd, err := config.ParseCommand(name, args[1:], attachedSensors(), stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		log.WithError(err).Errorf("%s: invalid arguments", name)
		return exitFailure
	}

	a, err := newApp(cmd.Config, stdout)
	if err != nil {
		log.WithError(err).Error(name)
		return exitFailure
	}
	switch cmd.Name {
	case config.CommandRead:
		err = a.read(cmd.Sensors)
	case config.CommandInit:
		err = a.configure(cmd.Sensors)
	case config.CommandSend:
		err = a.send(ctx)
	}
	if err != nil {
		log.WithError(err).Error(name)
		return exitFailure
	}
	return 0
}

// runDefault reads every attached sensor with default settings. Failures are
// logged but never turn into a non-zero exit, so running the tool bare on a
// host without sensors is harmless.
func runDefault(stdout io.Writer) int {
	cfg, err := config.Load("")
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		log.WithError(err).Warn("read")
		return 0
	}
	a, err := newApp(cfg, stdout)
	if err != nil {
		log.WithError(err).Warn("read")
		return 0
	}
	if err := a.read(nil); err != nil {
		log.WithError(err).Warn("read")
	}
	return 0
}

func usage(w io.Writer) {
	fmt.Fprintf(w, `Read and configure DS18B20 sensors

Usage: templogger [command] [flags]

Commands:
  read    Read values from the sensors (default)
  init    Configure the sensor's resolution
  send    Send the host's IP address via email

%s
`, attachedSensors())
}

// attachedSensors is the usage epilog listing the sensors found with the
// default (environment aware) configuration.
func attachedSensors() string {
	cfg, err := config.Load("")
	if err != nil {
		cfg = config.DefaultConfig()
	}
	ids, err := newBus(cfg).Sensors()
	if err != nil {
		ids = nil
	}
	return "Currently attached sensors are: " + strings.Join(ids, " ")
}

func newBus(cfg config.Config) sensor.Bus {
	if cfg.SensorType == config.SensorTypeSimulation {
		return sensor.NewFakeBus(nil)
	}
	b := sensor.NewW1Bus(log.StandardLogger())
	b.DeviceDir = cfg.DeviceDir
	b.Family = cfg.Family
	b.DeviceFile = cfg.DeviceFile
	b.ResolutionFile = cfg.ResolutionFile
	b.Retries = cfg.Retries
	b.RetrySleep = cfg.RetrySleep
	return b
}

func newApp(cfg config.Config, stdout io.Writer) (*app, error) {
	lvl, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, errors.Wrap(err, "log level")
	}
	log.SetLevel(lvl)
	return &app{
		cfg:        cfg,
		bus:        newBus(cfg),
		stdout:     stdout,
		log:        log.StandardLogger(),
		interfaces: notify.HostInterfaces,
	}, nil
}
