package importer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/spaghettifunk/oxygen/engine/core"
)

type submission struct {
	id         ImportJobID
	req        ImportRequest
	factory    JobFactory
	onComplete CompletionFunc
	onProgress ProgressFunc
}

/**
 * @brief Asynchronous import service. One owner goroutine runs the event
 * loop; jobs execute on their own goroutines backed by the shared worker
 * pool. Completion callbacks fire exactly once, on the owner goroutine.
 */
type Service struct {
	opts ServiceOptions
	pool *WorkerPool

	events      chan func()
	submissions chan submission
	quit        chan struct{}

	mu     sync.Mutex
	active map[ImportJobID]context.CancelFunc
	// Accepted submissions that have not launched yet; true marks a
	// cancel requested while still queued.
	queued map[ImportJobID]bool

	nextID    atomic.Uint64
	accepting atomic.Bool
	stopped   atomic.Bool

	running atomic.Int64
	pending atomic.Int64

	jobWG  sync.WaitGroup
	loopWG sync.WaitGroup
}

// NewService starts the owner goroutine immediately; the service accepts
// submissions until RequestShutdown or Stop.
func NewService(opts ServiceOptions) (*Service, error) {
	opts = opts.normalized()
	pool, err := NewWorkerPool(opts.ThreadPoolSize, opts.SubmissionQueueSize)
	if err != nil {
		return nil, err
	}
	s := &Service{
		opts:        opts,
		pool:        pool,
		events:      make(chan func(), opts.SubmissionQueueSize),
		submissions: make(chan submission, opts.SubmissionQueueSize),
		quit:        make(chan struct{}),
		active:      make(map[ImportJobID]context.CancelFunc),
		queued:      make(map[ImportJobID]bool),
	}
	s.accepting.Store(true)
	s.loopWG.Add(1)
	go s.run()
	return s, nil
}

func (s *Service) run() {
	defer s.loopWG.Done()
	for {
		select {
		case sub := <-s.submissions:
			s.pending.Add(-1)
			s.mu.Lock()
			canceled := s.queued[sub.id]
			delete(s.queued, sub.id)
			s.mu.Unlock()
			if canceled || !s.accepting.Load() {
				// Already on the owner goroutine; deliver directly rather
				// than bouncing through the events channel.
				if sub.onComplete != nil {
					sub.onComplete(sub.id, canceledReport(sub.req))
				}
				continue
			}
			s.launch(sub)
		case fn := <-s.events:
			fn()
		case <-s.quit:
			// Drain queued callbacks and never-launched submissions;
			// launched jobs have all finished by the time quit closes.
			for {
				select {
				case fn := <-s.events:
					fn()
				case sub := <-s.submissions:
					s.drop(sub)
				default:
					return
				}
			}
		}
	}
}

// Post schedules fn on the owner goroutine. Returns false once the
// service has stopped.
func (s *Service) Post(fn func()) bool {
	if s.stopped.Load() {
		return false
	}
	select {
	case s.events <- fn:
		return true
	case <-s.quit:
		return false
	}
}

// SubmitImport queues one import. The returned false means the request
// was rejected: shutdown in progress, unknown source format, or a full
// submission queue.
func (s *Service) SubmitImport(req ImportRequest, onComplete CompletionFunc, onProgress ProgressFunc) (ImportJobID, bool) {
	if !s.accepting.Load() {
		return 0, false
	}
	factory, ok := FactoryForSource(req.SourcePath)
	if !ok {
		core.LogWarn("importer: no job factory for %s", req.SourcePath)
		return 0, false
	}
	return s.submit(req, factory, onComplete, onProgress)
}

// SubmitImportWith queues one import with a caller-provided job factory,
// bypassing extension dispatch.
func (s *Service) SubmitImportWith(req ImportRequest, factory JobFactory, onComplete CompletionFunc, onProgress ProgressFunc) (ImportJobID, bool) {
	if !s.accepting.Load() || factory == nil {
		return 0, false
	}
	return s.submit(req, factory, onComplete, onProgress)
}

func (s *Service) submit(req ImportRequest, factory JobFactory, onComplete CompletionFunc, onProgress ProgressFunc) (ImportJobID, bool) {
	id := ImportJobID(s.nextID.Add(1))
	sub := submission{id: id, req: req, factory: factory, onComplete: onComplete, onProgress: onProgress}
	s.pending.Add(1)
	s.mu.Lock()
	s.queued[id] = false
	s.mu.Unlock()
	select {
	case s.submissions <- sub:
		return id, true
	default:
		s.pending.Add(-1)
		s.mu.Lock()
		delete(s.queued, id)
		s.mu.Unlock()
		core.LogWarn("importer: submission queue full, rejecting %s", req.SourcePath)
		return 0, false
	}
}

// drop completes a submission that will never launch. Runs on the owner
// goroutine during the quit drain.
func (s *Service) drop(sub submission) {
	s.pending.Add(-1)
	s.mu.Lock()
	delete(s.queued, sub.id)
	s.mu.Unlock()
	if sub.onComplete != nil {
		sub.onComplete(sub.id, canceledReport(sub.req))
	}
}

// SubmitManifest expands a parsed manifest into per-job submissions.
// Already-queued jobs stay queued when a later one is rejected; the
// returned ids cover the accepted prefix.
func (s *Service) SubmitManifest(m *Manifest, cookedRoot string, onComplete CompletionFunc, onProgress ProgressFunc) ([]ImportJobID, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil manifest", core.ErrInvalidRequest)
	}
	requests := m.Requests(cookedRoot)
	ids := make([]ImportJobID, 0, len(requests))
	for _, req := range requests {
		id, ok := s.SubmitImport(req, onComplete, onProgress)
		if !ok {
			return ids, fmt.Errorf("%w: submission rejected for %s", core.ErrNotReady, req.SourcePath)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// launch runs on the owner goroutine; the job itself runs on its own
// goroutine so the loop keeps serving cancels and callbacks.
func (s *Service) launch(sub submission) {
	job, err := sub.factory(sub.req)
	if err != nil {
		if sub.onComplete != nil {
			sub.onComplete(sub.id, failedReport(sub.req, "import.factory_failed", err))
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.active[sub.id] = cancel
	s.mu.Unlock()
	s.running.Add(1)

	env := &JobEnv{Pool: s.pool, Options: s.opts}
	if sub.onProgress != nil {
		env.OnProgress = func(stage string, p PipelineProgress) {
			progress := ImportProgress{
				Stage:     stage,
				Submitted: p.Submitted,
				Completed: p.Completed,
				Failed:    p.Failed,
				InFlight:  p.InFlight,
			}
			s.Post(func() { sub.onProgress(sub.id, progress) })
		}
	}

	s.jobWG.Add(1)
	go func() {
		defer s.jobWG.Done()
		report := job.Run(ctx, env)
		if ctx.Err() != nil && report.Success {
			// The job committed its container before noticing the cancel;
			// keep the key of what now exists on disk.
			canceled := canceledReport(sub.req)
			canceled.SourceKey = report.SourceKey
			report = canceled
		}
		s.mu.Lock()
		delete(s.active, sub.id)
		s.mu.Unlock()
		s.running.Add(-1)
		cancel()
		// The send must precede jobWG.Done returning control to Stop, so
		// the quit drain always sees queued completions.
		s.complete(sub, report)
	}()
}

// complete forwards the report to the owner goroutine exactly once.
func (s *Service) complete(sub submission, report ImportReport) {
	if sub.onComplete == nil {
		return
	}
	select {
	case s.events <- func() { sub.onComplete(sub.id, report) }:
	case <-s.quit:
		// Stop drained and exited already; deliver inline as last resort.
		sub.onComplete(sub.id, report)
	}
}

// CancelJob cancels one live job. A running job gets its context
// canceled; a queued one completes with a canceled report instead of
// launching. Returns false when the id is neither.
func (s *Service) CancelJob(id ImportJobID) bool {
	s.mu.Lock()
	cancel, ok := s.active[id]
	if !ok {
		if _, isQueued := s.queued[id]; isQueued {
			s.queued[id] = true
			s.mu.Unlock()
			return true
		}
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()
	cancel()
	return true
}

// CancelAll cancels every running job and marks every queued one.
func (s *Service) CancelAll() {
	s.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(s.active))
	for _, cancel := range s.active {
		cancels = append(cancels, cancel)
	}
	for id := range s.queued {
		s.queued[id] = true
	}
	s.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// RequestShutdown stops accepting new submissions and triggers every
// live job's cancel event, without blocking. Stop completes the
// teardown.
func (s *Service) RequestShutdown() {
	s.accepting.Store(false)
	s.CancelAll()
}

// Stop shuts the service down synchronously: no new submissions, every
// live job canceled and joined, queued callbacks delivered, pool torn
// down. Submissions that never launched complete with canceled reports.
func (s *Service) Stop() {
	if s.stopped.Swap(true) {
		return
	}
	s.RequestShutdown()
	// Once the owner goroutine observes the barrier it has also observed
	// the shutdown, so nothing still queued can launch and jobWG counts
	// only jobs that are already running.
	barrier := make(chan struct{})
	s.events <- func() { close(barrier) }
	<-barrier
	s.jobWG.Wait()
	close(s.quit)
	s.loopWG.Wait()
	s.pool.Shutdown()
}

func (s *Service) IsStopped() bool { return s.stopped.Load() }

func (s *Service) IsAcceptingJobs() bool { return s.accepting.Load() && !s.stopped.Load() }

// CanAcceptJob reports whether a submission made now would likely be
// queued; the answer is advisory under concurrent submitters.
func (s *Service) CanAcceptJob() bool {
	return s.IsAcceptingJobs() && len(s.submissions) < cap(s.submissions)
}

func (s *Service) IsJobActive(id ImportJobID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[id]
	return ok
}

func (s *Service) RunningJobCount() int { return int(s.running.Load()) }
func (s *Service) PendingJobCount() int { return int(s.pending.Load()) }
func (s *Service) ActiveJobCount() int  { return s.RunningJobCount() + s.PendingJobCount() }
