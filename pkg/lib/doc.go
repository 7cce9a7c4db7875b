// Package lib provides a Go SDK to run fabrication tasks on a taskd service.
//
// The service (started with `taskd serve`) runs the expensive computations
// (tool paths, G-code, view paths, image processing, model cutting and SVG
// clipping) on a pool of worker processes. This package lets applications
// submit those tasks and inspect the service without shelling out to the
// taskd CLI binary.
//
// # Quick Start
//
//	client, err := lib.New(ctx, lib.Config{Address: "127.0.0.1:8090"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	task, err := client.SubmitTask(ctx, lib.SubmitTaskOpts{
//	    Type:     lib.TaskTypeGenerateToolPath,
//	    HeadType: lib.HeadTypeLaser,
//	    ModelID:  "model-1",
//	    Data:     []byte(`{"models":[...]}`),
//	    OnProgress: func(p float64) {
//	        fmt.Printf("%.0f%%\n", p*100)
//	    },
//	})
//
// # Deduplication
//
// Tasks are identified by their type and model ID. Submitting a task while
// another one with the same identity is running supersedes the old one: its
// result is discarded and its [Client.SubmitTask] call only returns when its
// context is cancelled.
//
// # Cancellation
//
// Cancelling the context given to [Client.SubmitTask] asks the service to
// stop the task. The call returns the failed task once the service reports
// it, or an [ErrCancelTimeout] error after [Config].CancelWait.
//
// # Inspection
//
//	tasks, _ := client.ListTasks(ctx)         // Running tasks.
//	history, _ := client.ListTaskHistory(ctx) // Finished tasks, newest first.
//	task, _ := client.GetTask(ctx, "task-id")
//	progress, _ := client.GetProgress(ctx)
//	health, _ := client.Health(ctx)
//
// # Error Handling
//
// All methods return errors that can be inspected with [errors.Is]:
//
//   - [ErrNotFound]: The task does not exist.
//   - [ErrNotValid]: Invalid input (e.g. an unknown task type).
//   - [ErrCancelTimeout]: A cancelled task did not report its result in time.
//
// A task that fails on the service is not an error, check [Task].Status.
//
// # Thread Safety
//
// A [Client] is safe for concurrent use from multiple goroutines, every
// submitted task uses its own connection.
package lib
