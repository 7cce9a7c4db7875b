package worker

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/slok/taskd/internal/workerpool"
)

var errKilled = errors.New("worker killed")

// InProcessSpawner returns a spawner whose workers are goroutines serving on
// in-memory pipes instead of OS processes.
func InProcessSpawner(srv *Server) workerpool.Spawner {
	return workerpool.SpawnerFunc(func(_ context.Context) (workerpool.Process, error) {
		inR, inW := io.Pipe()
		outR, outW := io.Pipe()
		ctx, cancel := context.WithCancel(context.Background())

		p := &inProcess{
			inR:    inR,
			inW:    inW,
			outR:   outR,
			outW:   outW,
			cancel: cancel,
		}

		go func() {
			err := srv.Serve(ctx, inR, outW)
			if err == nil {
				err = io.EOF
			}
			outW.CloseWithError(err)
		}()

		return p, nil
	})
}

type inProcess struct {
	inR  *io.PipeReader
	inW  *io.PipeWriter
	outR *io.PipeReader
	outW *io.PipeWriter

	cancel   context.CancelFunc
	killOnce sync.Once
}

func (p *inProcess) Stdin() io.Writer  { return p.inW }
func (p *inProcess) Stdout() io.Reader { return p.outR }

func (p *inProcess) Kill() error {
	p.killOnce.Do(func() {
		// Close the pipes before cancelling so the operation can't write its
		// cancellation result as a regular frame.
		p.outW.CloseWithError(errKilled)
		p.inR.CloseWithError(errKilled)
		p.inW.CloseWithError(errKilled)
		p.cancel()
	})
	return nil
}

// Wait doesn't wait for the serving goroutine, an operation that ignores its
// context would block it forever.
func (p *inProcess) Wait() error {
	_ = p.inW.Close()
	return nil
}
