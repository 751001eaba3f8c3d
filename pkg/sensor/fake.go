package sensor

import (
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// FakeBus simulates sensors for machines without a one-wire bus.
type FakeBus struct {
	ids        []string
	resolution map[string]int
	mu         sync.Mutex
	now        func() time.Time
}

func NewFakeBus(ids []string) *FakeBus {
	if len(ids) == 0 {
		ids = []string{"0000000000a1", "0000000000a2"}
	}
	return &FakeBus{ids: ids, resolution: make(map[string]int), now: time.Now}
}

func (f *FakeBus) Sensors() ([]string, error) {
	return append([]string(nil), f.ids...), nil
}

func (f *FakeBus) ReadAll(ids []string) []Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Result, 0, len(ids))
	for _, id := range ids {
		if !f.known(id) {
			out = append(out, Result{SensorID: id, Err: errors.Wrapf(ErrUnreadable, "no simulated sensor %s", id)})
			continue
		}
		bits := f.resolution[id]
		if bits == 0 {
			bits = DefaultResolution
		}
		// 18..26 °C in 1/16 °C counts, low bits cleared as the sensor does
		// below 12 bits; the kernel truncates counts*1000/16 the same way.
		counts := int64(18*16) + rand.Int63n(8*16)
		counts &^= 1<<uint(12-bits) - 1
		millis := counts * 1000 / 16
		c := float64(millis) / 1000.0
		out = append(out, Result{SensorID: id, Reading: Reading{
			SensorID:   id,
			Millis:     millis,
			Celsius:    c,
			Fahrenheit: celsiusToFahrenheit(c),
			Timestamp:  f.now(),
		}})
	}
	return out
}

func (f *FakeBus) SetResolution(ids []string, bits int) []Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Result, 0, len(ids))
	for _, id := range ids {
		var err error
		switch {
		case !f.known(id):
			err = errors.Errorf("no simulated sensor %s", id)
		default:
			_, err = Increment(bits)
		}
		if err == nil {
			f.resolution[id] = bits
		}
		out = append(out, Result{SensorID: id, Err: err})
	}
	return out
}

func (f *FakeBus) known(id string) bool {
	for _, k := range f.ids {
		if k == id {
			return true
		}
	}
	return false
}

var _ Bus = &FakeBus{}
