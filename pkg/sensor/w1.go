package sensor

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/physic"
)

const (
	DefaultDeviceDir  = "/sys/bus/w1/devices"
	DefaultFamily     = "28"
	DefaultDeviceFile = "w1_slave"

	crcOK     = "YES"
	tempField = "t="
)

// W1Bus reads DS18B20 sensors through the files the w1_therm kernel driver
// exposes under DeviceDir.
type W1Bus struct {
	DeviceDir  string
	Family     string
	DeviceFile string
	// ResolutionFile is the file resolution writes go to. w1_therm accepts
	// them on w1_slave; newer kernels also have a dedicated "resolution".
	ResolutionFile string

	Retries    int
	RetrySleep time.Duration

	Log   logrus.FieldLogger
	Sleep func(time.Duration)
	Now   func() time.Time
}

// NewW1Bus returns a bus on the default sysfs location with the default
// retry policy.
func NewW1Bus(log logrus.FieldLogger) *W1Bus {
	return &W1Bus{
		DeviceDir:      DefaultDeviceDir,
		Family:         DefaultFamily,
		DeviceFile:     DefaultDeviceFile,
		ResolutionFile: DefaultDeviceFile,
		Retries:        DefaultRetries,
		RetrySleep:     DefaultRetrySleep,
		Log:            log,
	}
}

// Sensors globs DeviceDir for entries of the configured family.
func (b *W1Bus) Sensors() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(b.DeviceDir, b.Family+"*"))
	if err != nil {
		return nil, errors.Wrap(err, "list sensors")
	}
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		name := filepath.Base(m)
		if len(name) < idLen {
			continue
		}
		ids = append(ids, name[len(name)-idLen:])
	}
	return ids, nil
}

func (b *W1Bus) ReadAll(ids []string) []Result {
	out := make([]Result, 0, len(ids))
	for _, id := range ids {
		r, err := b.Dev(id).Read()
		out = append(out, Result{SensorID: id, Reading: r, Err: err})
	}
	return out
}

func (b *W1Bus) SetResolution(ids []string, bits int) []Result {
	out := make([]Result, 0, len(ids))
	for _, id := range ids {
		out = append(out, Result{SensorID: id, Err: b.Dev(id).SetResolution(bits)})
	}
	return out
}

// Dev returns a handle on one sensor. No I/O is done.
func (b *W1Bus) Dev(id string) *Dev {
	return &Dev{bus: b, id: id}
}

func (b *W1Bus) dir(id string) string {
	return filepath.Join(b.DeviceDir, b.Family+"-"+id)
}

func (b *W1Bus) logger() logrus.FieldLogger {
	if b.Log == nil {
		return logrus.StandardLogger()
	}
	return b.Log
}

func (b *W1Bus) sleep(d time.Duration) {
	if b.Sleep != nil {
		b.Sleep(d)
		return
	}
	time.Sleep(d)
}

func (b *W1Bus) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

func (b *W1Bus) retries() int {
	if b.Retries <= 0 {
		return DefaultRetries
	}
	return b.Retries
}

// readFile runs the bounded retry loop over one w1_slave file.
//
// An I/O error moves straight to the next attempt. A file that is not exactly
// two lines or whose first line does not end in YES is a CRC miss from a
// concurrent bus transaction; the bus gets RetrySleep to settle first.
func (b *W1Bus) readFile(path string) (Reading, error) {
	log := b.logger().WithField("path", path)
	for attempt := 1; attempt <= b.retries(); attempt++ {
		lines, err := readLines(path)
		if err != nil {
			log.WithField("attempt", attempt).WithError(err).Error("read failed")
			continue
		}
		if len(lines) != 2 || !strings.HasSuffix(strings.TrimSpace(lines[0]), crcOK) {
			log.WithField("attempt", attempt).Debug("crc check failed, retrying")
			b.sleep(b.RetrySleep)
			continue
		}
		millis, found, err := parseMillis(lines[1])
		if err != nil {
			return Reading{}, errors.Wrapf(err, "parse temperature from %s", path)
		}
		if !found {
			log.WithField("attempt", attempt).Debug("no t= field")
			continue
		}
		c := float64(millis) / 1000.0
		return Reading{
			Millis:     millis,
			Celsius:    c,
			Fahrenheit: celsiusToFahrenheit(c),
			Timestamp:  b.now(),
		}, nil
	}
	return Reading{}, errors.Wrapf(ErrUnreadable, "error reading temp from file: %s", path)
}

func readLines(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lines []string
	s := bufio.NewScanner(bytes.NewReader(raw))
	for s.Scan() {
		lines = append(lines, s.Text())
	}
	return lines, s.Err()
}

// parseMillis extracts the millidegree value following "t=".
func parseMillis(line string) (int64, bool, error) {
	pos := strings.Index(line, tempField)
	if pos == -1 {
		return 0, false, nil
	}
	v, err := strconv.ParseInt(strings.TrimSpace(line[pos+len(tempField):]), 10, 64)
	if err != nil {
		return 0, true, err
	}
	return v, true, nil
}

// Dev is a handle to one DS18B20 managed by the w1_therm kernel driver.
type Dev struct {
	bus *W1Bus
	id  string
}

func (d *Dev) ID() string { return d.id }

func (d *Dev) String() string {
	return "DS18B20{" + d.bus.Family + "-" + d.id + "}"
}

// Path is the data file the kernel driver exposes for the sensor.
func (d *Dev) Path() string {
	return filepath.Join(d.bus.dir(d.id), d.bus.DeviceFile)
}

// Read returns the current temperature, retrying transient failures.
func (d *Dev) Read() (Reading, error) {
	if !ValidID(d.id) {
		return Reading{}, errors.Errorf("invalid sensor id %q", d.id)
	}
	r, err := d.bus.readFile(d.Path())
	if err != nil {
		return Reading{}, err
	}
	r.SensorID = d.id
	return r, nil
}

// SetResolution writes bits as ASCII decimal to the resolution file. The
// value is not read back.
func (d *Dev) SetResolution(bits int) error {
	if !ValidID(d.id) {
		return errors.Errorf("invalid sensor id %q", d.id)
	}
	if _, err := Increment(bits); err != nil {
		return err
	}
	name := d.bus.ResolutionFile
	if name == "" {
		name = d.bus.DeviceFile
	}
	path := filepath.Join(d.bus.dir(d.id), name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	if _, err := f.WriteString(strconv.Itoa(bits)); err != nil {
		f.Close()
		return errors.Wrapf(err, "write resolution to %s", path)
	}
	return errors.Wrapf(f.Close(), "close %s", path)
}

// Halt implements conn.Resource.
func (d *Dev) Halt() error {
	return nil
}

// Sense implements physic.SenseEnv.
func (d *Dev) Sense(e *physic.Env) error {
	r, err := d.Read()
	if err != nil {
		return err
	}
	e.Temperature = r.Temperature()
	return nil
}

// SenseContinuous implements physic.SenseEnv.
func (d *Dev) SenseContinuous(time.Duration) (<-chan physic.Env, error) {
	return nil, errors.New("ds18b20: continuous sensing not supported")
}

// Precision implements physic.SenseEnv. The kernel driver defaults to 12 bits.
func (d *Dev) Precision(e *physic.Env) {
	e.Temperature = physic.Kelvin / 16
}

var _ Bus = &W1Bus{}
var _ conn.Resource = &Dev{}
var _ physic.SenseEnv = &Dev{}
