package importer

import (
	"context"
	"fmt"
	"testing"
)

type pathedInt struct {
	path  string
	value int
}

func (p pathedInt) SourcePath() string { return p.path }

func newTestPool(t *testing.T) *WorkerPool {
	t.Helper()
	pool, err := NewWorkerPool(2, 8)
	if err != nil {
		t.Fatalf("NewWorkerPool: %v", err)
	}
	t.Cleanup(func() { pool.Shutdown() })
	return pool
}

func TestPipelineProcessesItems(t *testing.T) {
	pool := newTestPool(t)
	pipe := NewPipeline("double", 2, 4, pool, func(ctx context.Context, in pathedInt) (int, []Diagnostic, error) {
		return in.value * 2, nil, nil
	})
	pipe.Start(context.Background())

	for i := 1; i <= 5; i++ {
		pipe.Submit(pathedInt{path: "mem", value: i})
	}
	pipe.Close()

	sum := 0
	for {
		result, ok := pipe.Collect()
		if !ok {
			break
		}
		if !result.Success {
			t.Fatalf("item failed: %v", result.Diagnostics)
		}
		sum += result.Value
	}
	if sum != 30 {
		t.Fatalf("sum = %d, want 30", sum)
	}

	progress := pipe.GetProgress()
	if progress.Submitted != 5 || progress.Completed != 5 || progress.Failed != 0 || progress.InFlight != 0 {
		t.Fatalf("progress = %+v", progress)
	}
}

func TestPipelineStageErrorBecomesDiagnostic(t *testing.T) {
	pool := newTestPool(t)
	pipe := NewPipeline("parse", 1, 2, pool, func(ctx context.Context, in pathedInt) (int, []Diagnostic, error) {
		return 0, nil, fmt.Errorf("bad value %d", in.value)
	})
	pipe.Start(context.Background())
	pipe.Submit(pathedInt{path: "a.bin", value: 7})
	pipe.Close()

	result, ok := pipe.Collect()
	if !ok {
		t.Fatal("pipeline drained without a result")
	}
	if result.Success {
		t.Fatal("failing stage reported success")
	}
	if len(result.Diagnostics) != 1 {
		t.Fatalf("got %d diagnostics, want 1", len(result.Diagnostics))
	}
	d := result.Diagnostics[0]
	if d.Code != "parse.failed" || d.Severity != SeverityError || d.SourcePath != "a.bin" {
		t.Fatalf("diagnostic = %+v", d)
	}
	if progress := pipe.GetProgress(); progress.Failed != 1 {
		t.Fatalf("failed count = %d, want 1", progress.Failed)
	}
}

func TestPipelinePanicBecomesDiagnostic(t *testing.T) {
	pool := newTestPool(t)
	pipe := NewPipeline("decode", 1, 2, pool, func(ctx context.Context, in pathedInt) (int, []Diagnostic, error) {
		panic("corrupt input")
	})
	pipe.Start(context.Background())
	pipe.Submit(pathedInt{path: "b.bin"})
	pipe.Close()

	result, ok := pipe.Collect()
	if !ok {
		t.Fatal("pipeline drained without a result")
	}
	if result.Success {
		t.Fatal("panicking stage reported success")
	}
	found := false
	for _, d := range result.Diagnostics {
		if d.Code == "decode.exception" {
			found = true
		}
	}
	if !found {
		t.Fatalf("no exception diagnostic in %v", result.Diagnostics)
	}
}

func TestPipelineCancelSingleDiagnostic(t *testing.T) {
	pool := newTestPool(t)
	pipe := NewPipeline("extract", 1, 2, pool, func(ctx context.Context, in pathedInt) (int, []Diagnostic, error) {
		return in.value, nil, nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pipe.Start(ctx)
	pipe.Submit(pathedInt{path: "c.gltf"})
	pipe.Close()

	result, ok := pipe.Collect()
	if !ok {
		t.Fatal("pipeline drained without a result")
	}
	if result.Success {
		t.Fatal("canceled item reported success")
	}
	if len(result.Diagnostics) != 1 {
		t.Fatalf("got %d diagnostics, want exactly 1", len(result.Diagnostics))
	}
	d := result.Diagnostics[0]
	if d.Code != "import.canceled" || d.Severity != SeverityWarning || d.SourcePath != "c.gltf" {
		t.Fatalf("diagnostic = %+v", d)
	}
}

func TestPipelineTrySubmitBackpressure(t *testing.T) {
	pool := newTestPool(t)
	// Never started: the input channel fills at its capacity.
	pipe := NewPipeline("stall", 1, 2, pool, func(ctx context.Context, in pathedInt) (int, []Diagnostic, error) {
		return 0, nil, nil
	})
	if !pipe.TrySubmit(pathedInt{}) || !pipe.TrySubmit(pathedInt{}) {
		t.Fatal("TrySubmit rejected items below capacity")
	}
	if pipe.TrySubmit(pathedInt{}) {
		t.Fatal("TrySubmit accepted an item beyond capacity")
	}
	if progress := pipe.GetProgress(); progress.Submitted != 2 {
		t.Fatalf("submitted = %d, want 2", progress.Submitted)
	}
}
