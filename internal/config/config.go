package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/satindergrewal/stretchplay/internal/timespec"
)

// Version is printed by -V.
const Version = "0.3.0"

// ErrUsage reports a command line that cannot be run. The reason has
// already been printed.
var ErrUsage = errors.New("invalid command line")

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// Config holds all runtime configuration: tuning defaults from the
// environment, then the command line on top.
type Config struct {
	// Output
	BufferSize time.Duration // device buffer requested from the driver

	// Time stretcher
	SequenceMS   float64
	OverlapMS    float64
	SeekWindowMS float64
	QuickSeek    bool
	AntiAlias    bool

	// Interaction
	SeekStep  float64 // seconds per seek key
	Verbosity int

	// Command line
	Begin, End       timespec.Time
	HasBegin, HasEnd bool
	Tempo            float64
	Cents            int
	Filename         string
	ShowVersion      bool
}

// Load reads configuration from environment variables with sane defaults.
func Load() Config {
	return Config{
		BufferSize: time.Duration(envInt("STRETCHPLAY_BUFFER_MS", 100)) * time.Millisecond,

		SequenceMS:   envFloat("STRETCHPLAY_SEQUENCE_MS", 82),
		OverlapMS:    envFloat("STRETCHPLAY_OVERLAP_MS", 10),
		SeekWindowMS: envFloat("STRETCHPLAY_SEEKWINDOW_MS", 28),
		QuickSeek:    envBool("STRETCHPLAY_QUICKSEEK", false),
		AntiAlias:    envBool("STRETCHPLAY_AA_FILTER", true),

		SeekStep:  envFloat("STRETCHPLAY_SEEK_STEP", 5),
		Verbosity: envInt("STRETCHPLAY_VERBOSITY", 1),

		Tempo: 1,
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := envStr(key, ""); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// Usage is the synopsis printed by -h and on argument errors.
func Usage(prog string) string {
	return fmt.Sprintf("%s [-b TIME] [-e TIME] [-t RATIO] [-s SEMITONES] [-c CENTS] [-v] [-q] [-V] [-h] FILENAME\n"+
		"  -s and -c both set the pitch; the last one given wins.\n", prog)
}

// timeFlag parses a position such as 1:30 or 90.5.
type timeFlag struct {
	t   *timespec.Time
	set *bool
}

func (f timeFlag) String() string {
	if f.t == nil {
		return ""
	}
	return f.t.String()
}

func (f timeFlag) Set(s string) error {
	t, err := timespec.Parse(s)
	if err != nil {
		return err
	}
	*f.t, *f.set = t, true
	return nil
}

// pitchFlag stores cents; -s and -c share one so the last one given wins.
type pitchFlag struct {
	cents *int
	scale int
}

func (f pitchFlag) String() string {
	if f.cents == nil {
		return "0"
	}
	return strconv.Itoa(*f.cents / f.scale)
}

func (f pitchFlag) Set(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("not an integer: %q", s)
	}
	*f.cents = n * f.scale
	return nil
}

// countFlag adds one per occurrence, like -v -v.
type countFlag struct{ n *int }

func (f countFlag) String() string {
	if f.n == nil {
		return "0"
	}
	return strconv.Itoa(*f.n)
}

func (f countFlag) Set(string) error { *f.n++; return nil }

func (f countFlag) IsBoolFlag() bool { return true }

// quietFlag resets the verbosity.
type quietFlag struct{ n *int }

func (f quietFlag) String() string   { return "false" }
func (f quietFlag) Set(string) error { *f.n = 0; return nil }
func (f quietFlag) IsBoolFlag() bool { return true }

// Parse applies the command line args (without the program name) on top of
// cfg. It returns flag.ErrHelp for -h and ErrUsage for anything else that
// stops the program before playback. Messages go to out.
func (cfg *Config) Parse(prog string, args []string, out io.Writer) error {
	fs := flag.NewFlagSet(prog, flag.ContinueOnError)
	fs.SetOutput(out)
	fs.Usage = func() {
		fmt.Fprint(out, Usage(prog))
		fs.PrintDefaults()
	}

	fs.Var(timeFlag{&cfg.Begin, &cfg.HasBegin}, "b", "start playback at `TIME`")
	fs.Var(timeFlag{&cfg.End, &cfg.HasEnd}, "e", "stop playback at `TIME`")
	fs.Float64Var(&cfg.Tempo, "t", cfg.Tempo, "tempo `RATIO`")
	fs.Var(pitchFlag{&cfg.Cents, 100}, "s", "pitch shift in `SEMITONES`")
	fs.Var(pitchFlag{&cfg.Cents, 1}, "c", "pitch shift in `CENTS`")
	fs.Var(countFlag{&cfg.Verbosity}, "v", "more messages")
	fs.Var(quietFlag{&cfg.Verbosity}, "q", "no messages")
	fs.BoolVar(&cfg.ShowVersion, "V", false, "print the version")
	help := fs.Bool("h", false, "print this help")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return ErrUsage
	}
	if *help {
		fs.Usage()
		return flag.ErrHelp
	}
	if cfg.ShowVersion {
		return nil
	}

	switch fs.NArg() {
	case 0:
		fmt.Fprintln(out, "No input file specified, aborting...")
		return ErrUsage
	case 1:
		cfg.Filename = fs.Arg(0)
	default:
		fmt.Fprintln(out, "Excessive command line parameters, aborting...")
		return ErrUsage
	}

	if !(cfg.Tempo > 0) {
		fmt.Fprintf(out, "Tempo must be positive, got %v\n", cfg.Tempo)
		return ErrUsage
	}
	if cfg.HasBegin && cfg.HasEnd && cfg.End.Cmp(cfg.Begin) < 0 {
		fmt.Fprintf(out, "End %v is before begin %v\n", cfg.End, cfg.Begin)
		return ErrUsage
	}
	return nil
}
