package importer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/spaghettifunk/oxygen/engine/core"
)

/** @brief Counters a pipeline exposes; throughput is the caller's math. */
type PipelineProgress struct {
	Submitted uint64
	Completed uint64
	Failed    uint64
	InFlight  uint64
}

/** @brief The outcome of one item passing through a pipeline stage. */
type WorkResult[Out any] struct {
	Value       Out
	Diagnostics []Diagnostic
	Success     bool
}

/** @brief A CPU-bound stage body. Honoring ctx is mandatory. */
type StageFunc[In, Out any] func(ctx context.Context, item In) (Out, []Diagnostic, error)

/**
 * @brief One stage of an import job: bounded input and output channels
 * with a configurable worker count in between. Workers run the stage
 * body on the shared pool; item order across workers is not preserved.
 */
type Pipeline[In, Out any] struct {
	name    string
	workers int
	pool    *WorkerPool
	stage   StageFunc[In, Out]

	in  chan In
	out chan WorkResult[Out]
	wg  sync.WaitGroup

	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64

	closeOnce sync.Once
}

func NewPipeline[In, Out any](name string, workers, capacity int, pool *WorkerPool, stage StageFunc[In, Out]) *Pipeline[In, Out] {
	if workers < 1 {
		workers = 1
	}
	if capacity < 1 {
		capacity = 1
	}
	return &Pipeline[In, Out]{
		name:    name,
		workers: workers,
		pool:    pool,
		stage:   stage,
		in:      make(chan In, capacity),
		out:     make(chan WorkResult[Out], capacity),
	}
}

// Start spawns the stage workers under ctx. The output channel closes
// once the input is closed and every worker has drained.
func (p *Pipeline[In, Out]) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	go func() {
		p.wg.Wait()
		close(p.out)
	}()
}

func (p *Pipeline[In, Out]) worker(ctx context.Context) {
	defer p.wg.Done()
	for item := range p.in {
		p.out <- p.process(ctx, item)
	}
}

func (p *Pipeline[In, Out]) process(ctx context.Context, item In) WorkResult[Out] {
	sourcePath := ""
	if sp, ok := any(item).(interface{ SourcePath() string }); ok {
		sourcePath = sp.SourcePath()
	}

	// Short-circuit before dispatch; a canceled item reports exactly
	// one import.canceled diagnostic and no further processing.
	if ctx.Err() != nil {
		p.failed.Add(1)
		return WorkResult[Out]{Diagnostics: []Diagnostic{CanceledDiagnostic(sourcePath)}}
	}

	var value Out
	var diags []Diagnostic
	err := p.pool.Run(ctx, func(ctx context.Context) error {
		defer func() {
			if r := recover(); r != nil {
				diags = append(diags, Diagnostic{
					Severity:   SeverityError,
					Code:       p.name + ".exception",
					Message:    fmt.Sprintf("stage panicked: %v", r),
					SourcePath: sourcePath,
				})
			}
		}()
		v, d, err := p.stage(ctx, item)
		value, diags = v, append(diags, d...)
		return err
	})
	switch {
	case err != nil && core.IsCanceled(err):
		p.failed.Add(1)
		return WorkResult[Out]{Diagnostics: []Diagnostic{CanceledDiagnostic(sourcePath)}}
	case err != nil:
		p.failed.Add(1)
		diags = append(diags, Diagnostic{
			Severity:   SeverityError,
			Code:       p.name + ".failed",
			Message:    err.Error(),
			SourcePath: sourcePath,
		})
		return WorkResult[Out]{Diagnostics: diags}
	}
	if hasErrorDiagnostic(diags) {
		p.failed.Add(1)
		return WorkResult[Out]{Value: value, Diagnostics: diags}
	}
	p.completed.Add(1)
	return WorkResult[Out]{Value: value, Diagnostics: diags, Success: true}
}

func hasErrorDiagnostic(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Submit enqueues an item, blocking while the input channel is full.
func (p *Pipeline[In, Out]) Submit(item In) {
	p.submitted.Add(1)
	p.in <- item
}

// TrySubmit enqueues without blocking; false means the channel is full.
func (p *Pipeline[In, Out]) TrySubmit(item In) bool {
	select {
	case p.in <- item:
		p.submitted.Add(1)
		return true
	default:
		return false
	}
}

// Collect pops one result, blocking until one is ready. The second
// return is false once the pipeline has fully drained.
func (p *Pipeline[In, Out]) Collect() (WorkResult[Out], bool) {
	r, ok := <-p.out
	return r, ok
}

// Close shuts the input channel; workers drain then exit.
func (p *Pipeline[In, Out]) Close() {
	p.closeOnce.Do(func() { close(p.in) })
}

func (p *Pipeline[In, Out]) GetProgress() PipelineProgress {
	submitted := p.submitted.Load()
	completed := p.completed.Load()
	failed := p.failed.Load()
	return PipelineProgress{
		Submitted: submitted,
		Completed: completed,
		Failed:    failed,
		InFlight:  submitted - completed - failed,
	}
}

func (p *Pipeline[In, Out]) Name() string {
	return p.name
}
