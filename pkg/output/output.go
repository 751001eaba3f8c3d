package output

import "github.com/ericogr/templogger/pkg/sensor"

// Output is a destination for the successful readings of a batch.
type Output interface {
	Publish([]sensor.Reading) error
	Close() error
}

// helper constructors are in subpackages
