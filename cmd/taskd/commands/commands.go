package commands

import (
	"context"
	"io"
	"path/filepath"

	"github.com/alecthomas/kingpin/v2"
	"k8s.io/client-go/util/homedir"

	"github.com/slok/taskd/internal/conventions"
	"github.com/slok/taskd/internal/log"
	"github.com/slok/taskd/internal/printer"
)

const (
	// LoggerTypeDefault is the logger default type.
	LoggerTypeDefault = "default"
	// LoggerTypeJSON is the logger json type.
	LoggerTypeJSON = "json"
)

// Command represents an application command, all commands that want to be executed
// should implement and setup on main.
type Command interface {
	Name() string
	Run(ctx context.Context) error
}

// RootCommand represents the root command configuration and global configuration
// for all the commands.
type RootCommand struct {
	// Global flags.
	Debug      bool
	NoLog      bool
	NoColor    bool
	LoggerType string

	// Global instances.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger log.Logger
}

// NewRootCommand initializes the main root configuration.
func NewRootCommand(app *kingpin.Application) *RootCommand {
	c := &RootCommand{}

	app.Flag("debug", "Enable debug mode.").BoolVar(&c.Debug)
	app.Flag("no-log", "Disable logger.").BoolVar(&c.NoLog)
	app.Flag("no-color", "Disable logger color.").BoolVar(&c.NoColor)
	app.Flag("logger", "Selects the logger type.").Default(LoggerTypeDefault).EnumVar(&c.LoggerType, LoggerTypeDefault, LoggerTypeJSON)

	return c
}

// globalArgs returns the global flags to forward the logging setup to child processes.
func (c RootCommand) globalArgs() []string {
	args := []string{"--logger", c.LoggerType}
	if c.Debug {
		args = append(args, "--debug")
	}
	if c.NoLog {
		args = append(args, "--no-log")
	}
	if c.NoColor {
		args = append(args, "--no-color")
	}
	return args
}

func defaultTempDir() string {
	return conventions.TempDir(filepath.Join(homedir.HomeDir(), conventions.DefaultDataDir))
}

func newPrinter(format string, w io.Writer) printer.Printer {
	switch format {
	case "json":
		return printer.NewJSONPrinter(w)
	default: // table
		return printer.NewTablePrinter(w)
	}
}
