package importer

import (
	"context"
	"testing"
	"time"

	"github.com/spaghettifunk/oxygen/engine/core"
)

type fakeJob struct {
	run func(ctx context.Context, env *JobEnv) ImportReport
}

func (f *fakeJob) Run(ctx context.Context, env *JobEnv) ImportReport {
	return f.run(ctx, env)
}

func testServiceOptions() ServiceOptions {
	opts := DefaultServiceOptions()
	opts.ThreadPoolSize = 2
	opts.SubmissionQueueSize = 8
	return opts
}

func fakeFactory(run func(ctx context.Context, env *JobEnv) ImportReport) JobFactory {
	return func(req ImportRequest) (Job, error) {
		return &fakeJob{run: run}, nil
	}
}

func waitReport(t *testing.T, ch <-chan ImportReport) ImportReport {
	t.Helper()
	select {
	case report := <-ch:
		return report
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for completion")
		return ImportReport{}
	}
}

func TestServiceSubmitComplete(t *testing.T) {
	svc, err := NewService(testServiceOptions())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	defer svc.Stop()

	type completion struct {
		id     ImportJobID
		report ImportReport
	}
	done := make(chan completion, 1)
	req := ImportRequest{SourcePath: "a.png", CookedRoot: t.TempDir()}
	factory := fakeFactory(func(ctx context.Context, env *JobEnv) ImportReport {
		return ImportReport{CookedRoot: req.CookedRoot, TexturesWritten: 1, Success: true}
	})

	id, ok := svc.SubmitImportWith(req, factory, func(gotID ImportJobID, report ImportReport) {
		done <- completion{id: gotID, report: report}
	}, nil)
	if !ok {
		t.Fatal("submission rejected")
	}

	var got completion
	select {
	case got = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for completion")
	}
	if got.id != id {
		t.Errorf("completion id = %d, want %d", got.id, id)
	}
	if !got.report.Success || got.report.TexturesWritten != 1 {
		t.Fatalf("report = %+v", got.report)
	}
}

func TestServiceCompletionFiresExactlyOnce(t *testing.T) {
	svc, err := NewService(testServiceOptions())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	calls := make(chan struct{}, 4)
	factory := fakeFactory(func(ctx context.Context, env *JobEnv) ImportReport {
		return ImportReport{Success: true}
	})
	if _, ok := svc.SubmitImportWith(ImportRequest{SourcePath: "x.png", CookedRoot: "/c"}, factory,
		func(ImportJobID, ImportReport) { calls <- struct{}{} }, nil); !ok {
		t.Fatal("submission rejected")
	}

	select {
	case <-calls:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for completion")
	}
	svc.Stop()
	if len(calls) != 0 {
		t.Fatalf("completion fired %d extra times", len(calls))
	}
}

func TestServiceCancelJob(t *testing.T) {
	svc, err := NewService(testServiceOptions())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	defer svc.Stop()

	started := make(chan struct{})
	done := make(chan ImportReport, 1)
	req := ImportRequest{SourcePath: "slow.gltf", CookedRoot: "/c"}
	factory := fakeFactory(func(ctx context.Context, env *JobEnv) ImportReport {
		close(started)
		<-ctx.Done()
		return canceledReport(req)
	})

	id, ok := svc.SubmitImportWith(req, factory, func(_ ImportJobID, report ImportReport) {
		done <- report
	}, nil)
	if !ok {
		t.Fatal("submission rejected")
	}
	<-started

	if !svc.IsJobActive(id) {
		t.Fatal("running job not reported active")
	}
	if !svc.CancelJob(id) {
		t.Fatal("CancelJob returned false for a running job")
	}

	report := waitReport(t, done)
	if report.Success {
		t.Fatal("canceled job reported success")
	}
	if len(report.Diagnostics) != 1 {
		t.Fatalf("got %d diagnostics, want exactly 1", len(report.Diagnostics))
	}
	if d := report.Diagnostics[0]; d.Code != "import.canceled" || d.SourcePath != "slow.gltf" {
		t.Fatalf("diagnostic = %+v", d)
	}
	if svc.CancelJob(id) {
		t.Fatal("CancelJob returned true for a finished job")
	}
}

func TestServiceCancelAll(t *testing.T) {
	svc, err := NewService(testServiceOptions())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	defer svc.Stop()

	started := make(chan struct{}, 3)
	done := make(chan ImportReport, 3)
	for i := 0; i < 3; i++ {
		req := ImportRequest{SourcePath: "m.fbx", CookedRoot: "/c"}
		factory := fakeFactory(func(ctx context.Context, env *JobEnv) ImportReport {
			started <- struct{}{}
			<-ctx.Done()
			return canceledReport(req)
		})
		if _, ok := svc.SubmitImportWith(req, factory, func(_ ImportJobID, report ImportReport) {
			done <- report
		}, nil); !ok {
			t.Fatal("submission rejected")
		}
	}
	for i := 0; i < 3; i++ {
		<-started
	}
	svc.CancelAll()
	for i := 0; i < 3; i++ {
		if report := waitReport(t, done); report.Success {
			t.Fatal("canceled job reported success")
		}
	}
}

func TestServiceRequestShutdownCancelsRunning(t *testing.T) {
	svc, err := NewService(testServiceOptions())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	defer svc.Stop()

	started := make(chan struct{})
	done := make(chan ImportReport, 1)
	req := ImportRequest{SourcePath: "slow.gltf", CookedRoot: "/c"}
	factory := fakeFactory(func(ctx context.Context, env *JobEnv) ImportReport {
		close(started)
		<-ctx.Done()
		return canceledReport(req)
	})
	if _, ok := svc.SubmitImportWith(req, factory, func(_ ImportJobID, report ImportReport) {
		done <- report
	}, nil); !ok {
		t.Fatal("submission rejected")
	}
	<-started

	svc.RequestShutdown()
	report := waitReport(t, done)
	if report.Success {
		t.Fatal("canceled job reported success")
	}
	if len(report.Diagnostics) != 1 || report.Diagnostics[0].Code != "import.canceled" {
		t.Fatalf("diagnostics = %+v", report.Diagnostics)
	}
}

func TestServiceCancelQueuedJob(t *testing.T) {
	svc, err := NewService(testServiceOptions())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	defer svc.Stop()

	// Park the owner goroutine so the submission stays queued.
	blocked := make(chan struct{})
	release := make(chan struct{})
	if !svc.Post(func() {
		close(blocked)
		<-release
	}) {
		t.Fatal("Post rejected")
	}
	<-blocked

	ran := make(chan struct{}, 1)
	done := make(chan ImportReport, 1)
	req := ImportRequest{SourcePath: "a.png", CookedRoot: "/c"}
	factory := JobFactory(func(req ImportRequest) (Job, error) {
		ran <- struct{}{}
		return &fakeJob{run: func(ctx context.Context, env *JobEnv) ImportReport {
			return ImportReport{Success: true}
		}}, nil
	})
	id, ok := svc.SubmitImportWith(req, factory, func(_ ImportJobID, report ImportReport) {
		done <- report
	}, nil)
	if !ok {
		t.Fatal("submission rejected")
	}

	if !svc.CancelJob(id) {
		t.Fatal("CancelJob returned false for a queued job")
	}
	close(release)

	report := waitReport(t, done)
	if report.Success {
		t.Fatal("canceled queued job reported success")
	}
	if len(report.Diagnostics) != 1 || report.Diagnostics[0].Code != "import.canceled" {
		t.Fatalf("diagnostics = %+v", report.Diagnostics)
	}
	select {
	case <-ran:
		t.Fatal("canceled queued job still launched")
	default:
	}
}

func TestServiceStopCompletesQueued(t *testing.T) {
	svc, err := NewService(testServiceOptions())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	blocked := make(chan struct{})
	release := make(chan struct{})
	if !svc.Post(func() {
		close(blocked)
		<-release
	}) {
		t.Fatal("Post rejected")
	}
	<-blocked

	done := make(chan ImportReport, 1)
	factory := fakeFactory(func(ctx context.Context, env *JobEnv) ImportReport {
		return ImportReport{Success: true}
	})
	if _, ok := svc.SubmitImportWith(ImportRequest{SourcePath: "a.png", CookedRoot: "/c"}, factory,
		func(_ ImportJobID, report ImportReport) { done <- report }, nil); !ok {
		t.Fatal("submission rejected")
	}

	stopped := make(chan struct{})
	go func() {
		svc.Stop()
		close(stopped)
	}()
	close(release)

	report := waitReport(t, done)
	if report.Success {
		t.Fatal("never-launched job reported success")
	}
	if len(report.Diagnostics) != 1 || report.Diagnostics[0].Code != "import.canceled" {
		t.Fatalf("diagnostics = %+v", report.Diagnostics)
	}
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestServiceCancelAfterCommitKeepsSourceKey(t *testing.T) {
	svc, err := NewService(testServiceOptions())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	defer svc.Stop()

	key := core.SourceKey{0xAB, 0xCD}
	started := make(chan struct{})
	done := make(chan ImportReport, 1)
	// The job commits its container, then notices the cancel on the way
	// out and still reports success.
	factory := fakeFactory(func(ctx context.Context, env *JobEnv) ImportReport {
		close(started)
		<-ctx.Done()
		return ImportReport{SourceKey: key, Success: true}
	})
	id, ok := svc.SubmitImportWith(ImportRequest{SourcePath: "a.png", CookedRoot: "/c"}, factory,
		func(_ ImportJobID, report ImportReport) { done <- report }, nil)
	if !ok {
		t.Fatal("submission rejected")
	}
	<-started
	if !svc.CancelJob(id) {
		t.Fatal("CancelJob returned false for a running job")
	}

	report := waitReport(t, done)
	if report.Success {
		t.Fatal("canceled job reported success")
	}
	if len(report.Diagnostics) != 1 || report.Diagnostics[0].Code != "import.canceled" {
		t.Fatalf("diagnostics = %+v", report.Diagnostics)
	}
	if report.SourceKey != key {
		t.Fatalf("source key = %v, want the committed key", report.SourceKey)
	}
}

func TestServiceShutdownRejectsSubmissions(t *testing.T) {
	svc, err := NewService(testServiceOptions())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	svc.RequestShutdown()
	if svc.IsAcceptingJobs() {
		t.Fatal("still accepting after RequestShutdown")
	}
	if _, ok := svc.SubmitImport(ImportRequest{SourcePath: "a.png", CookedRoot: "/c"}, nil, nil); ok {
		t.Fatal("submission accepted after RequestShutdown")
	}

	svc.Stop()
	if !svc.IsStopped() {
		t.Fatal("IsStopped false after Stop")
	}
	// Stop is idempotent.
	svc.Stop()
}

func TestServiceRejectsUnknownFormat(t *testing.T) {
	svc, err := NewService(testServiceOptions())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	defer svc.Stop()

	if _, ok := svc.SubmitImport(ImportRequest{SourcePath: "model.obj", CookedRoot: "/c"}, nil, nil); ok {
		t.Fatal("unknown extension accepted")
	}
}

func TestServiceBackpressure(t *testing.T) {
	opts := testServiceOptions()
	opts.SubmissionQueueSize = 1
	svc, err := NewService(opts)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	defer svc.Stop()

	// Park the owner goroutine so queued submissions cannot drain.
	blocked := make(chan struct{})
	release := make(chan struct{})
	if !svc.Post(func() {
		close(blocked)
		<-release
	}) {
		t.Fatal("Post rejected")
	}
	<-blocked

	factory := fakeFactory(func(ctx context.Context, env *JobEnv) ImportReport {
		return ImportReport{Success: true}
	})
	req := ImportRequest{SourcePath: "a.png", CookedRoot: "/c"}
	if _, ok := svc.SubmitImportWith(req, factory, nil, nil); !ok {
		t.Fatal("first submission rejected below capacity")
	}
	if _, ok := svc.SubmitImportWith(req, factory, nil, nil); ok {
		t.Fatal("submission accepted beyond queue capacity")
	}
	if svc.CanAcceptJob() {
		t.Fatal("CanAcceptJob true with a full queue")
	}
	if svc.PendingJobCount() != 1 {
		t.Fatalf("pending = %d, want 1", svc.PendingJobCount())
	}
	close(release)
}

func TestServiceFactoryFailure(t *testing.T) {
	svc, err := NewService(testServiceOptions())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	defer svc.Stop()

	done := make(chan ImportReport, 1)
	// An empty source path fails job construction at launch time.
	id, ok := svc.SubmitImportWith(ImportRequest{CookedRoot: "/c"}, NewTextureJob,
		func(_ ImportJobID, report ImportReport) { done <- report }, nil)
	if !ok || id == 0 {
		t.Fatal("submission rejected")
	}
	report := waitReport(t, done)
	if report.Success {
		t.Fatal("factory failure reported success")
	}
	if len(report.Diagnostics) == 0 || report.Diagnostics[0].Code != "import.factory_failed" {
		t.Fatalf("diagnostics = %v", report.Diagnostics)
	}
}

func TestServiceSubmitManifest(t *testing.T) {
	svc, err := NewService(testServiceOptions())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	m, _, err := ParseManifest([]byte(`{
		"version": 1,
		"jobs": [{ "type": "texture", "source": "missing.png" }]
	}`))
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}

	done := make(chan ImportReport, 1)
	ids, err := svc.SubmitManifest(m, t.TempDir(), func(_ ImportJobID, report ImportReport) {
		done <- report
	}, nil)
	if err != nil {
		t.Fatalf("SubmitManifest: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("got %d ids", len(ids))
	}

	// The source does not exist, so the real texture job fails cleanly.
	report := waitReport(t, done)
	if report.Success {
		t.Fatal("missing source reported success")
	}
	svc.Stop()
}
