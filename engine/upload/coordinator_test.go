package upload

import (
	"bytes"
	"errors"
	"testing"

	"github.com/spaghettifunk/oxygen/engine/core"
	"github.com/spaghettifunk/oxygen/engine/renderer/metadata"
)

type recordedCommand struct {
	kind      string // transition_buffer, copy_buffer, transition_texture, copy_texture
	buffer    *metadata.BufferDesc
	texture   *metadata.TextureDesc
	state     metadata.ResourceState
	bufRegion metadata.BufferCopyRegion
	texRegion metadata.TextureCopyRegion
	staged    []byte
}

type fakeRecorder struct {
	commands []recordedCommand
}

func (r *fakeRecorder) TransitionBuffer(dst *metadata.BufferDesc, state metadata.ResourceState) {
	r.commands = append(r.commands, recordedCommand{kind: "transition_buffer", buffer: dst, state: state})
}

func (r *fakeRecorder) CopyBuffer(dst *metadata.BufferDesc, staging []byte, region metadata.BufferCopyRegion) {
	staged := append([]byte(nil), staging[region.SrcOffset:region.SrcOffset+region.Size]...)
	r.commands = append(r.commands, recordedCommand{kind: "copy_buffer", buffer: dst, bufRegion: region, staged: staged})
}

func (r *fakeRecorder) TransitionTexture(dst *metadata.TextureDesc, state metadata.ResourceState) {
	r.commands = append(r.commands, recordedCommand{kind: "transition_texture", texture: dst, state: state})
}

func (r *fakeRecorder) CopyTexture(dst *metadata.TextureDesc, staging []byte, region metadata.TextureCopyRegion) {
	r.commands = append(r.commands, recordedCommand{kind: "copy_texture", texture: dst, texRegion: region})
}

type fakeSubmitQueue struct {
	completed metadata.FenceValue
	signaled  metadata.FenceValue
}

func (q *fakeSubmitQueue) DebugName() string                   { return "upload" }
func (q *fakeSubmitQueue) CompletedFence() metadata.FenceValue { return q.completed }
func (q *fakeSubmitQueue) Alive() bool                         { return true }
func (q *fakeSubmitQueue) Signal() metadata.FenceValue {
	q.signaled++
	return q.signaled
}

func TestCoordinatorBufferBatch(t *testing.T) {
	rec := &fakeRecorder{}
	q := &fakeSubmitQueue{}
	c := NewCoordinator(Policy{BufferCopyAlignment: 512}, SingleShotProvider{}, rec, q)

	vb := testBuffer("vb", 4096)
	ib := &metadata.BufferDesc{Name: "ib", Size: 4096, Usage: metadata.BufferUsageIndex}
	payloadA := bytes.Repeat([]byte{0xaa}, 512)
	payloadB := bytes.Repeat([]byte{0xbb}, 512)
	payloadC := bytes.Repeat([]byte{0xcc}, 64)

	tickets, err := c.SubmitBuffers([]BufferRequest{
		{Dst: vb, DstOffset: 0, Size: 512, Data: payloadA},
		{Dst: vb, DstOffset: 512, Size: 512, Data: payloadB},
		{Dst: ib, DstOffset: 0, Size: 64, Data: payloadC},
	})
	if err != nil {
		t.Fatal(err)
	}
	for i, tk := range tickets {
		if tk.Err != nil {
			t.Fatalf("ticket %d failed: %v", i, tk.Err)
		}
		if tk.Fence != 1 {
			t.Errorf("ticket %d fence %d, want 1", i, tk.Fence)
		}
	}
	if tickets[0].ID == tickets[1].ID {
		t.Error("ticket IDs not unique")
	}

	// Contiguous vb requests merged into one copy; each destination gets
	// a copy-dest transition before its copies and a steady-state one after.
	wantKinds := []string{
		"transition_buffer", "copy_buffer", "transition_buffer",
		"transition_buffer", "copy_buffer", "transition_buffer",
	}
	if len(rec.commands) != len(wantKinds) {
		t.Fatalf("recorded %d commands: %+v", len(rec.commands), rec.commands)
	}
	for i, want := range wantKinds {
		if rec.commands[i].kind != want {
			t.Fatalf("command %d kind %s, want %s", i, rec.commands[i].kind, want)
		}
	}
	if rec.commands[0].state != metadata.ResourceStateCopyDest || rec.commands[0].buffer != vb {
		t.Errorf("first transition %+v", rec.commands[0])
	}
	if rec.commands[2].state != metadata.ResourceStateVertexBuffer {
		t.Errorf("vb steady state %v", rec.commands[2].state)
	}
	if rec.commands[5].state != metadata.ResourceStateIndexBuffer {
		t.Errorf("ib steady state %v", rec.commands[5].state)
	}

	merged := rec.commands[1]
	if merged.bufRegion.Size != 1024 || merged.bufRegion.DstOffset != 0 {
		t.Errorf("merged copy region %+v", merged.bufRegion)
	}
	if !bytes.Equal(merged.staged[:512], payloadA) || !bytes.Equal(merged.staged[512:], payloadB) {
		t.Error("staged bytes do not match payloads")
	}

	if c.IsComplete(tickets[0]) {
		t.Error("ticket complete before fence")
	}
	q.completed = 1
	if !c.IsComplete(tickets[0]) {
		t.Error("ticket not complete after fence")
	}
}

func TestCoordinatorProducerFailure(t *testing.T) {
	rec := &fakeRecorder{}
	q := &fakeSubmitQueue{}
	c := NewCoordinator(DefaultPolicy(), SingleShotProvider{}, rec, q)

	vb := testBuffer("vb", 4096)
	tickets, err := c.SubmitBuffers([]BufferRequest{
		{Dst: vb, DstOffset: 0, Size: 64, Producer: func(dst []byte) bool {
			for i := range dst {
				dst[i] = 0x11
			}
			return true
		}},
		{Dst: vb, DstOffset: 64, Size: 64, Producer: func(dst []byte) bool { return false }},
	})
	if err != nil {
		t.Fatal(err)
	}
	if tickets[0].Err != nil {
		t.Errorf("healthy request failed: %v", tickets[0].Err)
	}
	if !errors.Is(tickets[1].Err, core.ErrProducerFailed) {
		t.Errorf("ticket 1 err = %v", tickets[1].Err)
	}
	if c.IsComplete(tickets[0]) {
		t.Error("healthy ticket complete before fence")
	}
	if !c.IsComplete(tickets[1]) {
		t.Error("failed ticket should report complete")
	}

	copies := 0
	for _, cmd := range rec.commands {
		if cmd.kind == "copy_buffer" {
			copies++
		}
	}
	if copies != 1 {
		t.Errorf("recorded %d copies, want 1", copies)
	}
}

func TestCoordinatorInvalidTicketsFailImmediately(t *testing.T) {
	c := NewCoordinator(DefaultPolicy(), SingleShotProvider{}, &fakeRecorder{}, &fakeSubmitQueue{})
	vb := testBuffer("vb", 128)

	tickets, err := c.SubmitBuffers([]BufferRequest{
		{Dst: nil, DstOffset: 0, Size: 16, Data: make([]byte, 16)},
		{Dst: vb, DstOffset: 0, Size: 16, Data: make([]byte, 16)},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !errors.Is(tickets[0].Err, core.ErrInvalidRequest) {
		t.Errorf("invalid request err = %v", tickets[0].Err)
	}
	if tickets[1].Err != nil {
		t.Errorf("valid request err = %v", tickets[1].Err)
	}

	// A batch with nothing plannable errors out.
	_, err = c.SubmitBuffers([]BufferRequest{{Dst: nil, Size: 1}})
	if !errors.Is(err, core.ErrInvalidRequest) {
		t.Errorf("empty plan err = %v", err)
	}
}

func TestCoordinatorTextureUpload(t *testing.T) {
	rec := &fakeRecorder{}
	q := &fakeSubmitQueue{}
	c := NewCoordinator(Policy{RowPitchAlignment: 256, PlacementAlignment: 512}, SingleShotProvider{}, rec, q)

	desc := &metadata.TextureDesc{
		Name: "albedo", TextureType: metadata.TextureType2D,
		Format: metadata.FormatRGBA8Unorm,
		Width:  4, Height: 2, Depth: 1, MipLevels: 1, ArraySize: 1,
	}
	// Two tightly packed rows of 16 bytes each.
	data := append(bytes.Repeat([]byte{0x01}, 16), bytes.Repeat([]byte{0x02}, 16)...)
	tickets, err := c.SubmitTexture(desc, []TextureRequest{{Subresource: TextureSubresource{Mip: 0}, Data: data}})
	if err != nil {
		t.Fatal(err)
	}
	if tickets[0].Err != nil {
		t.Fatal(tickets[0].Err)
	}

	wantKinds := []string{"transition_texture", "copy_texture", "transition_texture"}
	if len(rec.commands) != 3 {
		t.Fatalf("recorded %d commands", len(rec.commands))
	}
	for i, want := range wantKinds {
		if rec.commands[i].kind != want {
			t.Fatalf("command %d kind %s", i, rec.commands[i].kind)
		}
	}
	if rec.commands[0].state != metadata.ResourceStateCopyDest {
		t.Errorf("pre state %v", rec.commands[0].state)
	}
	if rec.commands[2].state != metadata.ResourceStateShaderResource {
		t.Errorf("post state %v", rec.commands[2].state)
	}
	region := rec.commands[1].texRegion
	if region.BufferRowPitch != 256 || region.Width != 4 || region.Height != 2 {
		t.Errorf("copy region %+v", region)
	}
}

func TestCoordinatorTextureSteadyStateFollowsUsage(t *testing.T) {
	rec := &fakeRecorder{}
	c := NewCoordinator(Policy{RowPitchAlignment: 256, PlacementAlignment: 512}, SingleShotProvider{}, rec, &fakeSubmitQueue{})

	desc := &metadata.TextureDesc{
		Name: "lut", TextureType: metadata.TextureType2D,
		Format: metadata.FormatRGBA8Unorm,
		Width:  4, Height: 1, Depth: 1, MipLevels: 1, ArraySize: 1,
		Usage: metadata.TextureUsageStorage,
	}
	tickets, err := c.SubmitTexture(desc, []TextureRequest{
		{Subresource: TextureSubresource{Mip: 0}, Data: bytes.Repeat([]byte{0x03}, 16)},
	})
	if err != nil {
		t.Fatal(err)
	}
	if tickets[0].Err != nil {
		t.Fatal(tickets[0].Err)
	}
	last := rec.commands[len(rec.commands)-1]
	if last.kind != "transition_texture" || last.state != metadata.ResourceStateStorage {
		t.Errorf("final transition %+v, want storage steady state", last)
	}
}

func TestFrameRingProvider(t *testing.T) {
	q := &fakeSubmitQueue{}
	p := NewFrameRingProvider(q, 2, 1024)

	if _, err := p.Acquire(2048); !errors.Is(err, core.ErrExhausted) {
		t.Errorf("oversized acquire err = %v", err)
	}
	buf, err := p.Acquire(600)
	if err != nil {
		t.Fatal(err)
	}
	if len(buf) != 600 || p.FrameBytesUsed() != 600 {
		t.Errorf("len %d used %d", len(buf), p.FrameBytesUsed())
	}
	if _, err := p.Acquire(600); !errors.Is(err, core.ErrExhausted) {
		t.Errorf("overfull frame err = %v", err)
	}

	// Retire the frame under fence 1; the spare slab takes over.
	if err := p.RetireFrame(1); err != nil {
		t.Fatal(err)
	}
	if p.FrameBytesUsed() != 0 {
		t.Error("new frame not reset")
	}
	if _, err := p.Acquire(600); err != nil {
		t.Fatal(err)
	}

	// Both slabs in flight and the GPU has not caught up.
	if err := p.RetireFrame(2); !errors.Is(err, core.ErrNotReady) {
		t.Errorf("retire with no spare err = %v", err)
	}
	q.completed = 1
	if err := p.RetireFrame(2); err != nil {
		t.Fatal(err)
	}
}
