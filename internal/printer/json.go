package printer

import (
	"encoding/json"
	"io"

	"github.com/slok/taskd/internal/model"
)

// JSONPrinter prints task information in JSON format, the same
// representation the clients receive.
type JSONPrinter struct {
	writer io.Writer
}

// NewJSONPrinter creates a new JSON printer.
func NewJSONPrinter(w io.Writer) *JSONPrinter {
	return &JSONPrinter{writer: w}
}

type messageOutput struct {
	Message string `json:"message"`
}

// PrintTasks prints tasks in JSON format.
func (j *JSONPrinter) PrintTasks(tasks []model.TaskSnapshot) error {
	if tasks == nil {
		tasks = []model.TaskSnapshot{}
	}
	return j.encode(tasks)
}

// PrintTask prints a task in JSON format.
func (j *JSONPrinter) PrintTask(task model.TaskSnapshot) error {
	return j.encode(task)
}

// PrintMessage prints a simple message in JSON format.
func (j *JSONPrinter) PrintMessage(msg string) error {
	return j.encode(messageOutput{Message: msg})
}

func (j *JSONPrinter) encode(v any) error {
	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
