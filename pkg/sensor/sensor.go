package sensor

import (
	"time"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/physic"
)

const (
	DefaultRetries    = 3
	DefaultRetrySleep = 200 * time.Millisecond
	DefaultResolution = 12

	// idLen is the number of hex digits of the serial part of a one-wire address.
	idLen = 12
)

// Resolutions maps a DS18B20 resolution in bits to its increment in °C.
var Resolutions = map[int]float64{
	9:  0.5,
	10: 0.25,
	11: 0.125,
	12: 0.0625,
}

// ErrUnreadable is returned once every attempt to read a sensor failed.
var ErrUnreadable = errors.New("sensor unreadable")

type Reading struct {
	SensorID   string    `json:"sensor_id"`
	Millis     int64     `json:"-"`
	Celsius    float64   `json:"temp_c"`
	Fahrenheit float64   `json:"temp_f"`
	Timestamp  time.Time `json:"-"`
}

// Temperature returns the reading as a periph physic.Temperature.
func (r Reading) Temperature() physic.Temperature {
	return physic.ZeroCelsius + physic.Temperature(r.Millis)*physic.MilliKelvin
}

// Result is the outcome of one sensor operation within a batch. Exactly one
// of Reading and Err is meaningful.
type Result struct {
	SensorID string
	Reading  Reading
	Err      error
}

func (r Result) OK() bool { return r.Err == nil }

// Bus is a set of DS18B20 sensors addressed by their 12 digit id.
type Bus interface {
	// Sensors lists the ids of the sensors currently attached.
	Sensors() ([]string, error)
	// ReadAll reads the sensors one after the other. The returned slice has
	// one entry per id, in order.
	ReadAll(ids []string) []Result
	// SetResolution writes bits to every sensor. Same result contract as ReadAll.
	SetResolution(ids []string, bits int) []Result
}

// Increment returns the °C step of a resolution, or an error if bits is not
// one the DS18B20 supports.
func Increment(bits int) (float64, error) {
	inc, ok := Resolutions[bits]
	if !ok {
		return 0, errors.Errorf("invalid resolution %d, must be 9..12", bits)
	}
	return inc, nil
}

// ValidID reports whether id looks like the serial part of a one-wire address.
func ValidID(id string) bool {
	if len(id) != idLen {
		return false
	}
	for _, c := range id {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

func celsiusToFahrenheit(c float64) float64 {
	return c*9.0/5.0 + 32.0
}
