package bindless

import (
	"testing"
	"time"

	"github.com/spaghettifunk/oxygen/engine/renderer/metadata"
)

type fakeQueue struct {
	name      string
	completed metadata.FenceValue
	alive     bool
}

func newFakeQueue(name string) *fakeQueue {
	return &fakeQueue{name: name, alive: true}
}

func (q *fakeQueue) DebugName() string                   { return q.name }
func (q *fakeQueue) CompletedFence() metadata.FenceValue { return q.completed }
func (q *fakeQueue) Alive() bool                         { return q.alive }

var srvDomain = DomainKey{ViewType: metadata.ResourceViewTypeTextureSRV, Visibility: metadata.VisibilityShaderVisible}

func TestReuseWaitsForFence(t *testing.T) {
	tr := NewTimelineGatedSlotReuse(DefaultReusePolicy())
	if err := tr.RegisterDomain(srvDomain, NewFreeListAllocator(16)); err != nil {
		t.Fatal(err)
	}
	q := newFakeQueue("gfx")

	h, err := tr.Allocate(srvDomain)
	if err != nil {
		t.Fatal(err)
	}
	if !tr.IsHandleCurrent(srvDomain, h) {
		t.Fatal("freshly allocated handle not current")
	}

	tr.Release(srvDomain, h, q, 7)
	// Fence not yet reached: handle stays current, slot stays parked.
	q.completed = 5
	tr.ProcessFor(q)
	if !tr.IsHandleCurrent(srvDomain, h) {
		t.Error("handle invalidated before fence completed")
	}
	if tr.PendingCount() != 1 {
		t.Errorf("PendingCount = %d, want 1", tr.PendingCount())
	}

	q.completed = 7
	tr.ProcessFor(q)
	if tr.IsHandleCurrent(srvDomain, h) {
		t.Error("handle still current after recycle")
	}
	if tr.PendingCount() != 0 {
		t.Errorf("PendingCount = %d, want 0", tr.PendingCount())
	}

	// The slot comes back with a fresh generation.
	h2, err := tr.Allocate(srvDomain)
	if err != nil {
		t.Fatal(err)
	}
	if h2.Slot != h.Slot {
		t.Errorf("recycled slot = %d, want %d", h2.Slot, h.Slot)
	}
	if h2.Generation == h.Generation {
		t.Error("recycled slot kept the old generation")
	}
	if !tr.IsHandleCurrent(srvDomain, h2) {
		t.Error("new handle not current")
	}
}

func TestReuseAscendingFenceOrder(t *testing.T) {
	tr := NewTimelineGatedSlotReuse(DefaultReusePolicy())
	backend := NewFreeListAllocator(16)
	if err := tr.RegisterDomain(srvDomain, backend); err != nil {
		t.Fatal(err)
	}
	q := newFakeQueue("gfx")

	var handles []VersionedBindlessHandle
	for i := 0; i < 3; i++ {
		h, err := tr.Allocate(srvDomain)
		if err != nil {
			t.Fatal(err)
		}
		handles = append(handles, h)
	}
	// Park out of fence order.
	tr.Release(srvDomain, handles[2], q, 30)
	tr.Release(srvDomain, handles[0], q, 10)
	tr.Release(srvDomain, handles[1], q, 20)

	q.completed = 20
	tr.ProcessFor(q)
	if tr.IsHandleCurrent(srvDomain, handles[0]) || tr.IsHandleCurrent(srvDomain, handles[1]) {
		t.Error("completed fences not reclaimed")
	}
	if !tr.IsHandleCurrent(srvDomain, handles[2]) {
		t.Error("fence 30 reclaimed at completed 20")
	}
	if backend.FreeCount() != 2 {
		t.Errorf("FreeCount = %d, want 2", backend.FreeCount())
	}
}

func TestReuseDuplicateReleaseFirstWins(t *testing.T) {
	tr := NewTimelineGatedSlotReuse(DefaultReusePolicy())
	backend := NewFreeListAllocator(16)
	if err := tr.RegisterDomain(srvDomain, backend); err != nil {
		t.Fatal(err)
	}
	q := newFakeQueue("gfx")

	h, err := tr.Allocate(srvDomain)
	if err != nil {
		t.Fatal(err)
	}
	tr.Release(srvDomain, h, q, 3)
	tr.Release(srvDomain, h, q, 9)

	q.completed = 3
	tr.ProcessFor(q)
	if tr.IsHandleCurrent(srvDomain, h) {
		t.Error("handle not reclaimed at its first fence")
	}
	if backend.FreeCount() != 1 {
		t.Fatalf("FreeCount = %d, want 1", backend.FreeCount())
	}

	// The losing duplicate must not free the slot a second time.
	q.completed = 9
	tr.ProcessFor(q)
	if backend.FreeCount() != 1 {
		t.Errorf("FreeCount after late fence = %d, want 1", backend.FreeCount())
	}
}

func TestReuseIgnoresBogusReleases(t *testing.T) {
	tr := NewTimelineGatedSlotReuse(DefaultReusePolicy())
	if err := tr.RegisterDomain(srvDomain, NewFreeListAllocator(16)); err != nil {
		t.Fatal(err)
	}
	q := newFakeQueue("gfx")

	// Invalid handle.
	tr.Release(srvDomain, VersionedBindlessHandle{}, q, 1)
	// Unregistered domain.
	other := DomainKey{ViewType: metadata.ResourceViewTypeBufferUAV, Visibility: metadata.VisibilityShaderVisible}
	tr.Release(other, VersionedBindlessHandle{Slot: 0, Generation: 1}, q, 1)
	// Stale generation.
	h, err := tr.Allocate(srvDomain)
	if err != nil {
		t.Fatal(err)
	}
	tr.Release(srvDomain, VersionedBindlessHandle{Slot: h.Slot, Generation: h.Generation + 5}, q, 1)

	if tr.PendingCount() != 0 {
		t.Errorf("PendingCount = %d, want 0", tr.PendingCount())
	}
}

func TestReuseDomainIsolation(t *testing.T) {
	tr := NewTimelineGatedSlotReuse(DefaultReusePolicy())
	uavDomain := DomainKey{ViewType: metadata.ResourceViewTypeTextureUAV, Visibility: metadata.VisibilityShaderVisible}

	hSRV, err := tr.Allocate(srvDomain)
	if err != nil {
		t.Fatal(err)
	}
	hUAV, err := tr.Allocate(uavDomain)
	if err != nil {
		t.Fatal(err)
	}
	// Domains allocate independently: both start at slot 0.
	if hSRV.Slot != 0 || hUAV.Slot != 0 {
		t.Errorf("slots %d, %d, want 0, 0", hSRV.Slot, hUAV.Slot)
	}

	q := newFakeQueue("gfx")
	tr.Release(srvDomain, hSRV, q, 1)
	q.completed = 1
	tr.ProcessFor(q)

	if tr.IsHandleCurrent(srvDomain, hSRV) {
		t.Error("released SRV handle still current")
	}
	if !tr.IsHandleCurrent(uavDomain, hUAV) {
		t.Error("UAV handle invalidated by SRV recycle")
	}
}

func TestReuseBatchAndMultipleQueues(t *testing.T) {
	tr := NewTimelineGatedSlotReuse(DefaultReusePolicy())
	backend := NewFreeListAllocator(16)
	if err := tr.RegisterDomain(srvDomain, backend); err != nil {
		t.Fatal(err)
	}
	gfx := newFakeQueue("gfx")
	copyQ := newFakeQueue("copy")

	h1, _ := tr.Allocate(srvDomain)
	h2, _ := tr.Allocate(srvDomain)
	h3, _ := tr.Allocate(srvDomain)

	tr.ReleaseBatch(gfx, 4, []DomainHandle{
		{Domain: srvDomain, Handle: h1},
		{Domain: srvDomain, Handle: h2},
	})
	tr.Release(srvDomain, h3, copyQ, 2)

	gfx.completed = 4
	// Process drains every queue; copy has not reached its fence yet.
	tr.Process()
	if tr.IsHandleCurrent(srvDomain, h1) || tr.IsHandleCurrent(srvDomain, h2) {
		t.Error("gfx batch not reclaimed")
	}
	if !tr.IsHandleCurrent(srvDomain, h3) {
		t.Error("copy queue release reclaimed early")
	}

	copyQ.completed = 2
	tr.Process()
	if tr.IsHandleCurrent(srvDomain, h3) {
		t.Error("copy queue release never reclaimed")
	}
	if backend.FreeCount() != 3 {
		t.Errorf("FreeCount = %d, want 3", backend.FreeCount())
	}
}

func TestReuseQueueExpiryLeaksByDefault(t *testing.T) {
	tr := NewTimelineGatedSlotReuse(DefaultReusePolicy())
	backend := NewFreeListAllocator(16)
	if err := tr.RegisterDomain(srvDomain, backend); err != nil {
		t.Fatal(err)
	}
	q := newFakeQueue("gfx")

	h, _ := tr.Allocate(srvDomain)
	tr.Release(srvDomain, h, q, 5)
	q.alive = false
	tr.Process()

	// Slot never returns to the backend, but the handle stays current
	// since nothing bumped its generation.
	if backend.FreeCount() != 0 {
		t.Errorf("FreeCount = %d, want 0 (leaked)", backend.FreeCount())
	}
	if !tr.IsHandleCurrent(srvDomain, h) {
		t.Error("leaked handle unexpectedly invalidated")
	}
	if tr.PendingCount() != 0 {
		t.Errorf("PendingCount = %d, want 0 after expiry", tr.PendingCount())
	}
}

func TestReuseQueueExpiryReclaim(t *testing.T) {
	policy := DefaultReusePolicy()
	policy.ReclaimOnQueueExpiry = true
	tr := NewTimelineGatedSlotReuse(policy)
	backend := NewFreeListAllocator(16)
	if err := tr.RegisterDomain(srvDomain, backend); err != nil {
		t.Fatal(err)
	}
	q := newFakeQueue("gfx")

	h, _ := tr.Allocate(srvDomain)
	tr.Release(srvDomain, h, q, 5)
	q.alive = false
	tr.Process()

	if backend.FreeCount() != 1 {
		t.Errorf("FreeCount = %d, want 1", backend.FreeCount())
	}
	if tr.IsHandleCurrent(srvDomain, h) {
		t.Error("handle still current after expiry reclaim")
	}
}

func TestReuseTrackerGrowsWithBackend(t *testing.T) {
	policy := DefaultReusePolicy()
	policy.InitialTrackerCapacity = 2
	tr := NewTimelineGatedSlotReuse(policy)

	var last VersionedBindlessHandle
	for i := 0; i < 10; i++ {
		h, err := tr.Allocate(srvDomain)
		if err != nil {
			t.Fatal(err)
		}
		last = h
	}
	if last.Slot != 9 {
		t.Errorf("last slot = %d, want 9", last.Slot)
	}
	if !tr.IsHandleCurrent(srvDomain, last) {
		t.Error("handle past initial capacity not current")
	}
}

func TestReuseStallWarningBackoff(t *testing.T) {
	tr := NewTimelineGatedSlotReuse(DefaultReusePolicy())
	if err := tr.RegisterDomain(srvDomain, NewFreeListAllocator(16)); err != nil {
		t.Fatal(err)
	}
	base := time.Now()
	clock := base
	tr.now = func() time.Time { return clock }

	q := newFakeQueue("gfx")
	h, _ := tr.Allocate(srvDomain)
	tr.Release(srvDomain, h, q, 100)

	// Warn interval doubles on each report; the bucket stays parked
	// through all of it and reclaims normally once the fence lands.
	for _, advance := range []time.Duration{25 * time.Millisecond, 50 * time.Millisecond, 90 * time.Millisecond} {
		clock = clock.Add(advance)
		tr.ProcessFor(q)
		if tr.PendingCount() != 1 {
			t.Fatalf("PendingCount = %d, want 1", tr.PendingCount())
		}
	}

	q.completed = 100
	tr.ProcessFor(q)
	if tr.IsHandleCurrent(srvDomain, h) {
		t.Error("handle not reclaimed after fence completed")
	}
}
