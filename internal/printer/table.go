package printer

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/slok/taskd/internal/model"
)

// TablePrinter prints task information in a table format.
type TablePrinter struct {
	writer io.Writer
}

// NewTablePrinter creates a new table printer.
func NewTablePrinter(w io.Writer) *TablePrinter {
	return &TablePrinter{writer: w}
}

// PrintTasks prints tasks in a table format.
func (t *TablePrinter) PrintTasks(tasks []model.TaskSnapshot) error {
	if len(tasks) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "ID\tTYPE\tHEAD\tMODEL\tSTATUS")
	for _, s := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.TaskID, s.TaskType, s.HeadType, orDash(s.ModelID), s.TaskStatus)
	}

	return nil
}

// PrintTask prints a task and the result fields of its type.
func (t *TablePrinter) PrintTask(task model.TaskSnapshot) error {
	fmt.Fprintf(t.writer, "ID:          %s\n", task.TaskID)
	fmt.Fprintf(t.writer, "Type:        %s\n", task.TaskType)
	fmt.Fprintf(t.writer, "Head:        %s\n", task.HeadType)
	fmt.Fprintf(t.writer, "Model:       %s\n", orDash(task.ModelID))
	fmt.Fprintf(t.writer, "Status:      %s\n", task.TaskStatus)
	fmt.Fprintf(t.writer, "Finished:    %s\n", FormatFinishTime(task.FinishTime))

	if task.Error != "" {
		fmt.Fprintf(t.writer, "Error:       %s\n", task.Error)
	}

	r := task.TaskResult
	if len(r.Filenames) > 0 {
		fmt.Fprintf(t.writer, "Files:       %s\n", strings.Join(r.Filenames, ", "))
	}

	if g := r.GcodeFile; g != nil {
		fmt.Fprintf(t.writer, "G-code:      %s (%s)\n", g.Name, FormatBytes(g.Size))
		fmt.Fprintf(t.writer, "Estimated:   %s\n", FormatSeconds(g.EstimatedTime))
		if bb := g.BoundingBox; bb != nil {
			fmt.Fprintf(t.writer, "Bounds:      [%g, %g, %g] - [%g, %g, %g]\n",
				bb.Min.X, bb.Min.Y, bb.Min.Z, bb.Max.X, bb.Max.Y, bb.Max.Z)
		}
	}

	if r.ViewPathFile != "" {
		fmt.Fprintf(t.writer, "View path:   %s\n", r.ViewPathFile)
	}

	if r.Filename != "" {
		fmt.Fprintf(t.writer, "Image:       %s (%gx%g)\n", r.Filename, r.Width, r.Height)
	}

	if len(r.STLInfo) > 0 {
		fmt.Fprintf(t.writer, "STL info:    %s\n", r.STLInfo)
	}

	if len(r.SVGInfo) > 0 {
		fmt.Fprintf(t.writer, "SVG info:    %s\n", r.SVGInfo)
	}

	return nil
}

// PrintMessage prints a simple text message.
func (t *TablePrinter) PrintMessage(msg string) error {
	fmt.Fprintln(t.writer, msg)
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
