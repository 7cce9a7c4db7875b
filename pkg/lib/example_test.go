package lib_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/slok/taskd/pkg/lib"
)

// This example submits a G-code task to a local service and cancels it on Ctrl+C.
func Example_submitTask() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	client, err := lib.New(ctx, lib.Config{Address: "127.0.0.1:8090"})
	if err != nil {
		panic(err)
	}

	task, err := client.SubmitTask(ctx, lib.SubmitTaskOpts{
		Type:     lib.TaskTypeGenerateGcode,
		HeadType: lib.HeadTypeLaser,
		ModelID:  "model-1",
		Data:     []byte(`{"headType": "laser", "toolPaths": ["toolpath.json"]}`),
		OnProgress: func(p float64) {
			fmt.Printf("\r%3.0f%%", p*100)
		},
	})
	switch {
	case errors.Is(err, lib.ErrCancelTimeout):
		fmt.Println("task did not stop in time")
		return
	case err != nil:
		panic(err)
	}

	if task.Status != lib.TaskStatusCompleted {
		fmt.Printf("task failed: %s\n", task.Error)
		return
	}

	fmt.Printf("G-code: %s (%s)\n", task.Result.GcodeFile.Name, task.Result.GcodeFile.EstimatedTime)
}
