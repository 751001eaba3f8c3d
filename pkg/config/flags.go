package config

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
)

const (
	CommandRead = "read"
	CommandInit = "init"
	CommandSend = "send"
)

// Command is a parsed subcommand: its merged configuration and, for read and
// init, the sensors it targets (empty means every attached sensor).
type Command struct {
	Name    string
	Sensors []string
	Config  Config
}

// idList collects sensor ids from repeated -s flags and comma lists.
type idList []string

func (l *idList) String() string { return strings.Join(*l, ",") }

func (l *idList) Set(s string) error {
	*l = append(*l, parseCSV(s)...)
	return nil
}

// ParseCommand parses the flags of subcommand name and applies them on top of
// the configuration loaded from the -c file and the environment. epilog is
// appended to the usage text.
func ParseCommand(name string, args []string, epilog string, output io.Writer) (Command, error) {
	var (
		cfgPath     string
		ids         idList
		decimals    int
		timestamp   bool
		outputs     string
		metricsFile string
		resolution  int
		smtp        SMTPConfig
	)
	const sensorHelp = "Select sensor. Omit to select all available sensors, otherwise the 12 digit id. Repeat or follow with more ids"

	// Each subcommand gets its own set: -s, -o and -t mean different things
	// for read and send.
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&cfgPath, "c", "", "Path to config file (yaml, json, toml)")
	switch name {
	case CommandRead:
		fs.Var(&ids, "s", sensorHelp)
		fs.IntVar(&decimals, "d", 0, "Decimal places in the output (0-4, default 4)")
		fs.BoolVar(&timestamp, "t", false, "Output the timestamp")
		fs.StringVar(&outputs, "o", "", "Comma-separated outputs (console,mqtt,influx,nats)")
		fs.StringVar(&metricsFile, "m", "", "Write Prometheus metrics to this textfile")
	case CommandInit:
		fs.Var(&ids, "s", sensorHelp)
		fs.IntVar(&resolution, "r", 0, "Resolution of the selected sensors. 9=0.5*C 10=0.25*C 11=0.125*C 12=0.0625*C (default 12)")
	case CommandSend:
		fs.StringVar(&smtp.Server, "s", "", "SMTP server")
		fs.IntVar(&smtp.Port, "o", 0, "SMTP port")
		fs.StringVar(&smtp.Username, "u", "", "SMTP login username")
		fs.StringVar(&smtp.Password, "p", "", "SMTP login pass")
		fs.StringVar(&smtp.From, "f", "", "Sender email address")
		fs.StringVar(&smtp.To, "t", "", "Recipient email address")
	default:
		return Command{}, errors.Errorf("unknown command %q", name)
	}
	fs.Usage = func() {
		fmt.Fprintf(output, "Usage: templogger %s [flags]\n", name)
		fs.PrintDefaults()
		if epilog != "" {
			fmt.Fprintf(output, "\n%s\n", epilog)
		}
	}

	if err := parseWithTrailingIDs(fs, name, args, &ids); err != nil {
		return Command{}, err
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		return Command{}, err
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	switch name {
	case CommandRead:
		if set["d"] {
			cfg.Decimals = decimals
		}
		if set["t"] {
			cfg.Timestamp = timestamp
		}
		if set["o"] {
			cfg.Outputs = parseCSV(outputs)
		}
		if set["m"] {
			cfg.MetricsFile = metricsFile
		}
	case CommandInit:
		if set["r"] {
			cfg.Resolution = resolution
		}
	case CommandSend:
		if set["s"] {
			cfg.SMTP.Server = smtp.Server
		}
		if set["o"] {
			cfg.SMTP.Port = smtp.Port
		}
		if set["u"] {
			cfg.SMTP.Username = smtp.Username
		}
		if set["p"] {
			cfg.SMTP.Password = smtp.Password
		}
		if set["f"] {
			cfg.SMTP.From = smtp.From
		}
		if set["t"] {
			cfg.SMTP.To = smtp.To
		}
	}

	if err := cfg.Validate(); err != nil {
		return Command{}, err
	}
	if name == CommandSend {
		if err := cfg.ValidateSMTP(); err != nil {
			return Command{}, err
		}
	}
	return Command{Name: name, Sensors: ids, Config: cfg}, nil
}

// parseWithTrailingIDs lets -s take several space separated ids, as in
// "-s 0123456789ab 0123456789ac -d 2": bare arguments after -s are ids and
// parsing resumes at the next flag.
func parseWithTrailingIDs(fs *flag.FlagSet, name string, args []string, ids *idList) error {
	for {
		if err := fs.Parse(args); err != nil {
			return err
		}
		rest := fs.Args()
		if len(rest) == 0 {
			return nil
		}
		if name == CommandSend || len(*ids) == 0 {
			return errors.Errorf("unexpected argument %q", rest[0])
		}
		i := 0
		for i < len(rest) && !strings.HasPrefix(rest[i], "-") {
			if err := ids.Set(rest[i]); err != nil {
				return err
			}
			i++
		}
		if i == 0 {
			return errors.Errorf("unexpected argument %q", rest[0])
		}
		args = rest[i:]
	}
}
