package console

import (
	"fmt"
	"io"

	"github.com/ericogr/templogger/pkg/lineproto"
	"github.com/ericogr/templogger/pkg/output"
	"github.com/ericogr/templogger/pkg/sensor"
)

// ConsoleOutput prints one line-protocol record per reading.
type ConsoleOutput struct {
	w   io.Writer
	enc lineproto.Encoder
}

func NewConsole(w io.Writer, enc lineproto.Encoder) output.Output {
	return &ConsoleOutput{w: w, enc: enc}
}

func (c *ConsoleOutput) Publish(readings []sensor.Reading) error {
	for _, r := range readings {
		if _, err := fmt.Fprintln(c.w, c.enc.Encode(r)); err != nil {
			return err
		}
	}
	return nil
}

func (c *ConsoleOutput) Close() error { return nil }
