package bindless

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/spaghettifunk/oxygen/engine/core"
	"github.com/spaghettifunk/oxygen/engine/renderer/metadata"
)

// ReusePolicy tunes the timeline-gated recycler.
type ReusePolicy struct {
	// ReclaimOnQueueExpiry controls what happens to pending buckets of a
	// queue that dies before its fence completed. False drops the
	// buckets and leaks the slots (observed engine behavior); true
	// reclaims them immediately, still bumping generations so stale
	// handles stay invalid.
	ReclaimOnQueueExpiry bool
	// StallWarnInterval is the age past which an unreclaimed bucket is
	// reported. Each report doubles the interval up to StallWarnMax.
	StallWarnInterval time.Duration
	StallWarnMax      time.Duration
	// InitialTrackerCapacity seeds new domains' generation trackers.
	InitialTrackerCapacity uint32
}

// DefaultReusePolicy mirrors the tuning the renderer ships with.
func DefaultReusePolicy() ReusePolicy {
	return ReusePolicy{
		ReclaimOnQueueExpiry:   false,
		StallWarnInterval:      20 * time.Millisecond,
		StallWarnMax:           80 * time.Millisecond,
		InitialTrackerCapacity: 64,
	}
}

// DomainHandle pairs a handle with its domain for batch operations.
type DomainHandle struct {
	Domain DomainKey
	Handle VersionedBindlessHandle
}

type releaseKey struct {
	domain DomainKey
	handle VersionedBindlessHandle
}

type pendingBucket struct {
	fence     metadata.FenceValue
	items     []DomainHandle
	created   time.Time
	warnAfter time.Duration
}

type queueState struct {
	buckets map[metadata.FenceValue]*pendingBucket
}

type domainState struct {
	backend SlotAllocator
	tracker *GenerationTracker
}

/**
 * @brief Allocates and recycles shader-visible descriptor indices.
 * Releases are parked under the (queue, fence) that last referenced the
 * slot and only recycled once the queue's completed fence catches up.
 * Recycling bumps the slot's generation, so handles issued before the
 * release can never alias the slot's next occupant.
 */
type TimelineGatedSlotReuse struct {
	policy ReusePolicy

	mu       sync.RWMutex
	domains  map[DomainKey]*domainState
	queues   map[metadata.CommandQueue]*queueState
	released map[releaseKey]struct{}

	// Injected in tests to drive stall detection deterministically.
	now func() time.Time
}

func NewTimelineGatedSlotReuse(policy ReusePolicy) *TimelineGatedSlotReuse {
	if policy.StallWarnInterval <= 0 {
		policy.StallWarnInterval = 20 * time.Millisecond
	}
	if policy.StallWarnMax < policy.StallWarnInterval {
		policy.StallWarnMax = 4 * policy.StallWarnInterval
	}
	if policy.InitialTrackerCapacity == 0 {
		policy.InitialTrackerCapacity = 64
	}
	return &TimelineGatedSlotReuse{
		policy:   policy,
		domains:  make(map[DomainKey]*domainState),
		queues:   make(map[metadata.CommandQueue]*queueState),
		released: make(map[releaseKey]struct{}),
		now:      time.Now,
	}
}

// RegisterDomain installs a backend allocator for a domain. Domains not
// registered before their first Allocate get an unbounded free-list
// backend.
func (tr *TimelineGatedSlotReuse) RegisterDomain(key DomainKey, backend SlotAllocator) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if _, exists := tr.domains[key]; exists {
		return fmt.Errorf("domain %s already registered", key)
	}
	tr.domains[key] = &domainState{
		backend: backend,
		tracker: NewGenerationTracker(tr.policy.InitialTrackerCapacity),
	}
	return nil
}

func (tr *TimelineGatedSlotReuse) domainLocked(key DomainKey) *domainState {
	ds, ok := tr.domains[key]
	if !ok {
		ds = &domainState{
			backend: NewFreeListAllocator(0),
			tracker: NewGenerationTracker(tr.policy.InitialTrackerCapacity),
		}
		tr.domains[key] = ds
	}
	return ds
}

// Allocate returns a handle with a unique slot within the domain and
// the slot's current generation.
func (tr *TimelineGatedSlotReuse) Allocate(domain DomainKey) (VersionedBindlessHandle, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	ds := tr.domainLocked(domain)
	slot, err := ds.backend.Allocate()
	if err != nil {
		return VersionedBindlessHandle{}, err
	}
	// A backend handing out a slot past the tracker is not an error;
	// grow to cover it. Safe here: all tracker writes happen under mu.
	if slot >= ds.tracker.Capacity() {
		grow := ds.tracker.Capacity() * 2
		if grow <= slot {
			grow = slot + 1
		}
		ds.tracker.Resize(grow)
	}
	return VersionedBindlessHandle{
		Slot:       slot,
		Generation: ds.tracker.Load(slot),
	}, nil
}

// Release parks the handle's slot for recycling once queue reaches
// fence. Invalid or stale handles are ignored; so are duplicate
// releases, where the first fence to claim a handle wins.
func (tr *TimelineGatedSlotReuse) Release(domain DomainKey, handle VersionedBindlessHandle, queue metadata.CommandQueue, fence metadata.FenceValue) {
	tr.ReleaseBatch(queue, fence, []DomainHandle{{Domain: domain, Handle: handle}})
}

// ReleaseBatch parks a group of handles under a single fence.
func (tr *TimelineGatedSlotReuse) ReleaseBatch(queue metadata.CommandQueue, fence metadata.FenceValue, items []DomainHandle) {
	if queue == nil || len(items) == 0 {
		return
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()

	var accepted []DomainHandle
	for _, item := range items {
		if !item.Handle.IsValid() {
			continue
		}
		ds, ok := tr.domains[item.Domain]
		if !ok {
			continue
		}
		// A stale handle (slot already recycled) has nothing to release.
		if ds.tracker.Load(item.Handle.Slot) != item.Handle.Generation {
			continue
		}
		key := releaseKey{domain: item.Domain, handle: item.Handle}
		if _, dup := tr.released[key]; dup {
			continue
		}
		tr.released[key] = struct{}{}
		accepted = append(accepted, item)
	}
	if len(accepted) == 0 {
		return
	}

	qs, ok := tr.queues[queue]
	if !ok {
		qs = &queueState{buckets: make(map[metadata.FenceValue]*pendingBucket)}
		tr.queues[queue] = qs
	}
	bucket, ok := qs.buckets[fence]
	if !ok {
		bucket = &pendingBucket{
			fence:     fence,
			created:   tr.now(),
			warnAfter: tr.policy.StallWarnInterval,
		}
		qs.buckets[fence] = bucket
	}
	bucket.items = append(bucket.items, accepted...)
}

// ProcessFor recycles every parked slot of queue whose fence has
// completed, in ascending fence order.
func (tr *TimelineGatedSlotReuse) ProcessFor(queue metadata.CommandQueue) {
	if queue == nil {
		return
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.processQueueLocked(queue)
}

// Process runs ProcessFor for every queue holding pending buckets and
// prunes queues that have expired.
func (tr *TimelineGatedSlotReuse) Process() {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	for queue, qs := range tr.queues {
		if !queue.Alive() {
			tr.expireQueueLocked(queue, qs)
			continue
		}
		tr.processQueueLocked(queue)
	}
}

func (tr *TimelineGatedSlotReuse) processQueueLocked(queue metadata.CommandQueue) {
	qs, ok := tr.queues[queue]
	if !ok {
		return
	}
	completed := queue.CompletedFence()

	fences := make([]metadata.FenceValue, 0, len(qs.buckets))
	for fence := range qs.buckets {
		fences = append(fences, fence)
	}
	sort.Slice(fences, func(i, j int) bool { return fences[i] < fences[j] })

	now := tr.now()
	for _, fence := range fences {
		bucket := qs.buckets[fence]
		if fence > completed {
			tr.checkStallLocked(queue, bucket, now)
			continue
		}
		tr.reclaimBucketLocked(bucket)
		delete(qs.buckets, fence)
	}
	if len(qs.buckets) == 0 {
		delete(tr.queues, queue)
	}
}

func (tr *TimelineGatedSlotReuse) reclaimBucketLocked(bucket *pendingBucket) {
	for _, item := range bucket.items {
		ds, ok := tr.domains[item.Domain]
		if !ok {
			continue
		}
		delete(tr.released, releaseKey{domain: item.Domain, handle: item.Handle})
		ds.tracker.Bump(item.Handle.Slot)
		if err := ds.backend.Free(item.Handle.Slot); err != nil {
			// Releasing a slot the backend never handed out; the bump
			// already invalidated the handle, nothing else to undo.
			core.LogDebug("bindless: dropping bogus release of %s in %s: %v", item.Handle, item.Domain, err)
		}
	}
}

func (tr *TimelineGatedSlotReuse) expireQueueLocked(queue metadata.CommandQueue, qs *queueState) {
	if tr.policy.ReclaimOnQueueExpiry {
		fences := make([]metadata.FenceValue, 0, len(qs.buckets))
		for fence := range qs.buckets {
			fences = append(fences, fence)
		}
		sort.Slice(fences, func(i, j int) bool { return fences[i] < fences[j] })
		for _, fence := range fences {
			tr.reclaimBucketLocked(qs.buckets[fence])
		}
		core.LogWarn("bindless: queue %s expired, reclaimed %d pending buckets", queue.DebugName(), len(fences))
	} else {
		for _, bucket := range qs.buckets {
			for _, item := range bucket.items {
				delete(tr.released, releaseKey{domain: item.Domain, handle: item.Handle})
			}
		}
		core.LogWarn("bindless: queue %s expired with %d pending buckets; slots leaked by policy", queue.DebugName(), len(qs.buckets))
	}
	delete(tr.queues, queue)
}

// checkStallLocked emits a throttled warning for buckets that sit
// unreclaimed past the policy interval. Each warning doubles the
// bucket's next interval, capped by the policy maximum.
func (tr *TimelineGatedSlotReuse) checkStallLocked(queue metadata.CommandQueue, bucket *pendingBucket, now time.Time) {
	age := now.Sub(bucket.created)
	if age < bucket.warnAfter {
		return
	}
	core.LogWarn("bindless: %d slots on queue %s waiting %v for fence %d (completed %d)",
		len(bucket.items), queue.DebugName(), age.Round(time.Millisecond), bucket.fence, queue.CompletedFence())
	next := bucket.warnAfter * 2
	if next > tr.policy.StallWarnMax {
		next = tr.policy.StallWarnMax
	}
	bucket.warnAfter = next
	bucket.created = now
}

// IsHandleCurrent reports whether the handle still refers to the live
// occupant of its slot.
func (tr *TimelineGatedSlotReuse) IsHandleCurrent(domain DomainKey, handle VersionedBindlessHandle) bool {
	if !handle.IsValid() {
		return false
	}
	tr.mu.RLock()
	ds, ok := tr.domains[domain]
	tr.mu.RUnlock()
	if !ok {
		return false
	}
	return ds.tracker.Load(handle.Slot) == handle.Generation
}

// PendingCount reports how many releases are parked across all queues.
func (tr *TimelineGatedSlotReuse) PendingCount() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.released)
}
