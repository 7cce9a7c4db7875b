package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/taskd/internal/client"
	"github.com/slok/taskd/internal/conventions"
	"github.com/slok/taskd/internal/model"
)

// ListCommand lists the tasks of a running service.
type ListCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	address      string
	statusFilter string
	history      bool
	format       string
}

// NewListCommand returns the list command.
func NewListCommand(rootCmd *RootCommand, app *kingpin.Application) *ListCommand {
	c := &ListCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("list", "List the tasks of a running service.")
	c.Cmd.Flag("address", "Address of the task service.").Default(conventions.DefaultAddress).StringVar(&c.address)
	c.Cmd.Flag("status", "Filter by status (idle, dispatched, completed, failed, deprecated).").StringVar(&c.statusFilter)
	c.Cmd.Flag("history", "List the finished tasks instead of the registered ones.").BoolVar(&c.history)
	c.Cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(&c.format, "table", "json")

	return c
}

func (c ListCommand) Name() string { return c.Cmd.FullCommand() }

func (c ListCommand) Run(ctx context.Context) error {
	var statusFilter model.TaskStatus
	if c.statusFilter != "" {
		statusFilter = model.TaskStatus(strings.ToLower(c.statusFilter))
		switch statusFilter {
		case model.TaskStatusIdle, model.TaskStatusDispatched, model.TaskStatusCompleted, model.TaskStatusFailed, model.TaskStatusDeprecated:
		default:
			return fmt.Errorf("invalid status filter: %s", c.statusFilter)
		}
	}

	cli, err := client.NewClient(client.Config{
		Address: c.address,
		Logger:  c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create client: %w", err)
	}

	var tasks []model.TaskSnapshot
	if c.history {
		tasks, err = cli.History(ctx)
	} else {
		tasks, err = cli.Tasks(ctx)
	}
	if err != nil {
		return fmt.Errorf("could not list tasks: %w", err)
	}

	if statusFilter != "" {
		filtered := []model.TaskSnapshot{}
		for _, t := range tasks {
			if t.TaskStatus == statusFilter {
				filtered = append(filtered, t)
			}
		}
		tasks = filtered
	}

	if err := newPrinter(c.format, c.rootCmd.Stdout).PrintTasks(tasks); err != nil {
		return fmt.Errorf("could not print tasks: %w", err)
	}

	return nil
}
