package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ericogr/templogger/pkg/config"
	"github.com/ericogr/templogger/pkg/lineproto"
	"github.com/ericogr/templogger/pkg/notify"
	"github.com/ericogr/templogger/pkg/sensor"
	"github.com/pkg/errors"
	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"
)

const (
	goodData = "72 01 4b 46 7f ff 0e 10 57 : crc=57 YES\n72 01 4b 46 7f ff 0e 10 57 t=25000\n"
	coldData = "ff ff 4b 46 7f ff 0e 10 57 : crc=1a YES\nff ff 4b 46 7f ff 0e 10 57 t=-1250\n"
	badCRC   = "72 01 4b 46 7f ff 0e 10 57 : crc=00 NO\n72 01 4b 46 7f ff 0e 10 57 t=25000\n"
)

// sysfs lays out a fake one-wire device directory and points the
// environment configuration at it.
func sysfs(t *testing.T, sensors map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for id, data := range sensors {
		sdir := filepath.Join(dir, "28-"+id)
		if err := os.MkdirAll(sdir, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(sdir, "w1_slave"), []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	t.Setenv("TEMPLOGGER_DEVICE_DIR", dir)
	t.Setenv("TEMPLOGGER_RETRY_SLEEP", "1ms")
	return dir
}

// captureLog redirects the standard logger for the duration of the test.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	std := logrus.StandardLogger()
	out, lvl := std.Out, std.GetLevel()
	std.SetOutput(&buf)
	t.Cleanup(func() {
		std.SetOutput(out)
		std.SetLevel(lvl)
	})
	return &buf
}

func TestRunReadBatch(t *testing.T) {
	sysfs(t, map[string]string{
		"000000000001": goodData,
		"000000000002": badCRC,
		"000000000003": coldData,
	})
	logs := captureLog(t)

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"read", "-d", "2"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code %d; stderr: %s", code, stderr.String())
	}
	want := "sensors,sensor_id=000000000001 temp_c=25.00,temp_f=77.00\n" +
		"sensors,sensor_id=000000000003 temp_c=-1.25,temp_f=29.75\n"
	if stdout.String() != want {
		t.Fatalf("stdout mismatch:\n got: %q\nwant: %q", stdout.String(), want)
	}
	if !strings.Contains(logs.String(), "000000000002") {
		t.Fatalf("failure for sensor 2 not logged: %s", logs.String())
	}
}

func TestRunReadSelected(t *testing.T) {
	sysfs(t, map[string]string{
		"000000000001": goodData,
		"000000000002": goodData,
		"000000000003": coldData,
	})
	captureLog(t)

	var stdout bytes.Buffer
	code := run(context.Background(), []string{"read", "-s", "000000000003", "000000000001", "-d", "0"}, &stdout, io.Discard)
	if code != 0 {
		t.Fatalf("exit code %d", code)
	}
	want := "sensors,sensor_id=000000000003 temp_c=-1,temp_f=30\n" +
		"sensors,sensor_id=000000000001 temp_c=25,temp_f=77\n"
	if stdout.String() != want {
		t.Fatalf("stdout mismatch:\n got: %q\nwant: %q", stdout.String(), want)
	}
}

func TestRunReadTimestampAndMetrics(t *testing.T) {
	sysfs(t, map[string]string{"000000000001": goodData})
	captureLog(t)
	prom := filepath.Join(t.TempDir(), "templogger.prom")

	var stdout bytes.Buffer
	code := run(context.Background(), []string{"read", "-t", "-m", prom}, &stdout, io.Discard)
	if code != 0 {
		t.Fatalf("exit code %d", code)
	}
	fields := strings.Fields(strings.TrimSpace(stdout.String()))
	if len(fields) != 3 || fields[1] != "temp_c=25.0000,temp_f=77.0000" {
		t.Fatalf("unexpected line %q", stdout.String())
	}
	if len(fields[2]) != 13 {
		t.Fatalf("timestamp %q is not in milliseconds", fields[2])
	}
	b, err := os.ReadFile(prom)
	if err != nil {
		t.Fatalf("metrics file: %v", err)
	}
	if !strings.Contains(string(b), `templogger_temperature_celsius{sensor_id="000000000001"} 25`) {
		t.Fatalf("metrics file lacks the reading:\n%s", b)
	}
}

func TestRunInit(t *testing.T) {
	dir := sysfs(t, map[string]string{"000000000001": goodData})
	captureLog(t)

	var stdout bytes.Buffer
	code := run(context.Background(), []string{"init", "-s", "000000000001", "-r", "10"}, &stdout, io.Discard)
	if code != 0 {
		t.Fatalf("exit code %d", code)
	}
	want := "Sensor 000000000001 resolution set to 10 which is an increment of 0.25*C\n"
	if stdout.String() != want {
		t.Fatalf("stdout mismatch:\n got: %q\nwant: %q", stdout.String(), want)
	}
	b, err := os.ReadFile(filepath.Join(dir, "28-000000000001", "w1_slave"))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "10" {
		t.Fatalf("resolution file holds %q; want %q", b, "10")
	}
}

func TestRunInitRejectsResolution(t *testing.T) {
	sysfs(t, map[string]string{"000000000001": goodData})
	captureLog(t)

	var stdout bytes.Buffer
	if code := run(context.Background(), []string{"init", "-r", "8"}, &stdout, io.Discard); code != exitFailure {
		t.Fatalf("exit code %d; want %d", code, exitFailure)
	}
	if stdout.Len() != 0 {
		t.Fatalf("unexpected output %q", stdout.String())
	}
}

func TestRunExitCodes(t *testing.T) {
	sysfs(t, nil)
	captureLog(t)

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"help", []string{"-h"}, 0},
		{"subcommand help", []string{"read", "-h"}, 0},
		{"unknown command", []string{"frobnicate"}, exitFailure},
		{"bad flag", []string{"read", "-x"}, exitFailure},
		{"decimals out of range", []string{"read", "-d", "5"}, exitFailure},
		{"send without settings", []string{"send"}, exitFailure},
		{"empty bus", []string{"read"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := run(context.Background(), tt.args, io.Discard, io.Discard); got != tt.want {
				t.Fatalf("exit code %d; want %d", got, tt.want)
			}
		})
	}
}

func TestRunDefault(t *testing.T) {
	sysfs(t, map[string]string{"000000000001": goodData})
	captureLog(t)

	var stdout bytes.Buffer
	if code := run(context.Background(), nil, &stdout, io.Discard); code != 0 {
		t.Fatalf("exit code %d", code)
	}
	want := "sensors,sensor_id=000000000001 temp_c=25.0000,temp_f=77.0000\n"
	if stdout.String() != want {
		t.Fatalf("stdout mismatch:\n got: %q\nwant: %q", stdout.String(), want)
	}
}

func TestRunDefaultSwallowsErrors(t *testing.T) {
	sysfs(t, map[string]string{"000000000001": goodData})
	t.Setenv("TEMPLOGGER_DECIMALS", "9")
	logs := captureLog(t)

	var stdout bytes.Buffer
	if code := run(context.Background(), nil, &stdout, io.Discard); code != 0 {
		t.Fatalf("exit code %d; want 0", code)
	}
	if stdout.Len() != 0 {
		t.Fatalf("unexpected output %q", stdout.String())
	}
	if !strings.Contains(logs.String(), "decimals") {
		t.Fatalf("error not logged: %s", logs.String())
	}
}

func TestInitOutputs(t *testing.T) {
	enc, err := lineproto.NewEncoder(2, false)
	if err != nil {
		t.Fatal(err)
	}
	a := &app{cfg: config.DefaultConfig(), stdout: io.Discard, log: logrus.StandardLogger()}

	a.cfg.Outputs = nil
	entries, err := a.initOutputs(enc, nil)
	if err != nil {
		t.Fatalf("initOutputs: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != config.OutputConsole {
		t.Fatalf("unexpected entries %+v", entries)
	}

	a.cfg.Outputs = []string{config.OutputConsole, config.OutputInflux}
	if _, err := a.initOutputs(enc, nil); err == nil {
		t.Fatal("expected error for influx without url")
	}

	a.cfg.Outputs = []string{"kafka"}
	if _, err := a.initOutputs(enc, nil); err == nil {
		t.Fatal("expected error for unknown output")
	}
}

func TestReadSimulation(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.SensorType = config.SensorTypeSimulation
	cfg.Decimals = 1
	var stdout bytes.Buffer
	a := &app{cfg: cfg, bus: newBus(cfg), stdout: &stdout, log: logrus.StandardLogger()}

	if err := a.read(nil); err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines; want 2: %q", len(lines), stdout.String())
	}
	for _, l := range lines {
		if !strings.HasPrefix(l, "sensors,sensor_id=0000000000a") {
			t.Fatalf("unexpected line %q", l)
		}
	}
}

type sendCloser struct {
	gomail.SendFunc
}

func (sendCloser) Close() error { return nil }

type fakeDialer struct {
	send gomail.SendFunc
	err  error
}

func (d fakeDialer) Dial() (gomail.SendCloser, error) {
	if d.err != nil {
		return nil, d.err
	}
	return sendCloser{d.send}, nil
}

func TestSend(t *testing.T) {
	lister := func(context.Context) ([]psnet.InterfaceStat, error) {
		return []psnet.InterfaceStat{{Name: "eth0", Addrs: psnet.InterfaceAddrList{{Addr: "10.0.0.7/24"}}}}, nil
	}
	ok := func(string, []string, io.WriterTo) error { return nil }

	tests := []struct {
		name   string
		dialer fakeDialer
		want   string
	}{
		{"sent", fakeDialer{send: ok}, "Sent\n"},
		{"connect", fakeDialer{err: errors.New("535 5.7.8 bad credentials")}, "Failed to connect to the server. Wrong user/password?\n"},
		{"smtp", fakeDialer{send: func(string, []string, io.WriterTo) error { return errors.New("552 mailbox full") }}, "SMTP error occurred: "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout bytes.Buffer
			a := &app{
				cfg:        config.DefaultConfig(),
				stdout:     &stdout,
				log:        logrus.StandardLogger(),
				interfaces: lister,
				newNotifier: func(cfg config.SMTPConfig) *notify.Notifier {
					return &notify.Notifier{Dialer: tt.dialer, From: "pi@example.com", To: "me@example.com"}
				},
			}
			if err := a.send(context.Background()); err != nil {
				t.Fatalf("send: %v", err)
			}
			if !strings.HasPrefix(stdout.String(), tt.want) {
				t.Fatalf("got %q; want prefix %q", stdout.String(), tt.want)
			}
		})
	}
}

func TestSendInterfaceError(t *testing.T) {
	a := &app{
		stdout: io.Discard,
		log:    logrus.StandardLogger(),
		interfaces: func(context.Context) ([]psnet.InterfaceStat, error) {
			return nil, errors.New("netlink unavailable")
		},
	}
	if err := a.send(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewBus(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DeviceDir = "/tmp/w1"
	cfg.Retries = 5
	b, ok := newBus(cfg).(*sensor.W1Bus)
	if !ok {
		t.Fatalf("sysfs config built %T", newBus(cfg))
	}
	if b.DeviceDir != "/tmp/w1" || b.Retries != 5 {
		t.Fatalf("bus not configured: %+v", b)
	}
	cfg.SensorType = config.SensorTypeSimulation
	if _, ok := newBus(cfg).(*sensor.FakeBus); !ok {
		t.Fatal("simulation config did not build a FakeBus")
	}
}
