package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/taskd/internal/client"
	"github.com/slok/taskd/internal/conventions"
	"github.com/slok/taskd/internal/model"
	"github.com/slok/taskd/internal/printer"
)

// SubmitCommand commits a task to a running service and waits for its result.
type SubmitCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	address  string
	taskType string
	taskID   string
	headType string
	modelID  string
	data     string
	format   string
}

// NewSubmitCommand returns the submit command.
func NewSubmitCommand(rootCmd *RootCommand, app *kingpin.Application) *SubmitCommand {
	c := &SubmitCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("submit", "Submit a task and wait for its result.")
	c.Cmd.Flag("address", "Address of the task service.").Default(conventions.DefaultAddress).StringVar(&c.address)
	c.Cmd.Flag("type", "Task type.").Required().EnumVar(&c.taskType, taskTypeNames()...)
	c.Cmd.Flag("id", "Task ID, random by default.").StringVar(&c.taskID)
	c.Cmd.Flag("head-type", "Head that issues the task.").Default(string(model.HeadTypeLaser)).EnumVar(&c.headType,
		string(model.HeadTypePrinting), string(model.HeadTypeLaser), string(model.HeadTypeCNC))
	c.Cmd.Flag("model-id", "Model the task works on.").StringVar(&c.modelID)
	c.Cmd.Flag("data", "Task data in JSON, @path reads it from a file and @- from stdin.").Default("{}").StringVar(&c.data)
	c.Cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(&c.format, "table", "json")

	return c
}

func (c SubmitCommand) Name() string { return c.Cmd.FullCommand() }

func (c SubmitCommand) Run(ctx context.Context) error {
	data, err := c.readData()
	if err != nil {
		return err
	}

	cli, err := client.NewClient(client.Config{
		Address: c.address,
		Logger:  c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create client: %w", err)
	}

	bar := printer.NewProgressBar(c.rootCmd.Stderr, c.taskType)
	snap, err := cli.SubmitTask(ctx, model.Task{
		ID:       c.taskID,
		Type:     model.TaskType(c.taskType),
		HeadType: model.HeadType(c.headType),
		ModelID:  c.modelID,
		Data:     data,
	}, bar.Update)
	bar.Finish()
	if err != nil {
		return err
	}

	if err := newPrinter(c.format, c.rootCmd.Stdout).PrintTask(snap); err != nil {
		return fmt.Errorf("could not print task: %w", err)
	}

	if snap.TaskStatus != model.TaskStatusCompleted {
		return fmt.Errorf("task %s %s: %s", snap.TaskID, snap.TaskStatus, snap.Error)
	}
	return nil
}

func (c SubmitCommand) readData() (json.RawMessage, error) {
	var (
		raw []byte
		err error
	)
	switch {
	case c.data == "@-":
		raw, err = io.ReadAll(c.rootCmd.Stdin)
	case strings.HasPrefix(c.data, "@"):
		raw, err = os.ReadFile(strings.TrimPrefix(c.data, "@"))
	default:
		raw = []byte(c.data)
	}
	if err != nil {
		return nil, fmt.Errorf("could not read task data: %w", err)
	}

	if !json.Valid(raw) {
		return nil, fmt.Errorf("task data is not valid JSON")
	}
	return raw, nil
}

func taskTypeNames() []string {
	names := make([]string, 0, len(model.TaskTypes))
	for _, t := range model.TaskTypes {
		names = append(names, string(t))
	}
	return names
}
