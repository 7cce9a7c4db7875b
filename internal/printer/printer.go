package printer

import "github.com/slok/taskd/internal/model"

// Printer knows how to print task information in different formats.
type Printer interface {
	PrintTasks(tasks []model.TaskSnapshot) error
	PrintTask(task model.TaskSnapshot) error
	PrintMessage(msg string) error
}
