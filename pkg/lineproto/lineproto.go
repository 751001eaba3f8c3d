// Package lineproto renders sensor readings as line-protocol records:
//
//	sensors,sensor_id=<id> temp_c=<C>,temp_f=<F> [<timestamp ms>]
package lineproto

import (
	"strconv"
	"strings"

	"github.com/ericogr/templogger/pkg/sensor"
	"github.com/pkg/errors"
)

const (
	Measurement = "sensors"

	MinDecimals     = 0
	MaxDecimals     = 4
	DefaultDecimals = 4
)

// Point is one record. A zero Timestamp is left out of the line.
type Point struct {
	SensorID   string
	Celsius    float64
	Fahrenheit float64
	Timestamp  int64
}

// Format renders p with both temperatures rounded to decimals places.
func Format(p Point, decimals int) string {
	var b strings.Builder
	b.WriteString(Measurement)
	b.WriteString(",sensor_id=")
	b.WriteString(p.SensorID)
	b.WriteString(" temp_c=")
	b.WriteString(strconv.FormatFloat(p.Celsius, 'f', decimals, 64))
	b.WriteString(",temp_f=")
	b.WriteString(strconv.FormatFloat(p.Fahrenheit, 'f', decimals, 64))
	b.WriteByte(' ')
	if p.Timestamp != 0 {
		b.WriteString(strconv.FormatInt(p.Timestamp, 10))
	}
	return strings.TrimSpace(b.String())
}

// Encoder formats readings with a fixed precision and timestamp policy.
type Encoder struct {
	decimals  int
	timestamp bool
}

func NewEncoder(decimals int, timestamp bool) (Encoder, error) {
	if decimals < MinDecimals || decimals > MaxDecimals {
		return Encoder{}, errors.Errorf("decimals must be %d..%d, got %d", MinDecimals, MaxDecimals, decimals)
	}
	return Encoder{decimals: decimals, timestamp: timestamp}, nil
}

func (e Encoder) Encode(r sensor.Reading) string {
	p := Point{SensorID: r.SensorID, Celsius: r.Celsius, Fahrenheit: r.Fahrenheit}
	if e.timestamp && !r.Timestamp.IsZero() {
		p.Timestamp = r.Timestamp.UnixMilli()
	}
	return Format(p, e.decimals)
}

func (e Encoder) EncodeAll(readings []sensor.Reading) []string {
	lines := make([]string, 0, len(readings))
	for _, r := range readings {
		lines = append(lines, e.Encode(r))
	}
	return lines
}
