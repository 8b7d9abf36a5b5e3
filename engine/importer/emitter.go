package importer

import (
	"bytes"

	"github.com/zeebo/blake3"

	"github.com/spaghettifunk/oxygen/engine/pak"
	"github.com/spaghettifunk/oxygen/engine/renderer/metadata"
)

// Dedup signatures are domain-separated so a texture payload can never
// collide with a buffer payload of identical bytes.
const (
	textureSignatureContext = "oxygen.res.texture"
	bufferSignatureContext  = "oxygen.res.buffer"
)

func payloadSignature(context string, payload []byte) [32]byte {
	var sig [32]byte
	blake3.DeriveKey(context, payload, sig[:])
	return sig
}

/**
 * @brief Accumulates texture payloads into a table + data blob pair.
 * Emits are sequential on the aggregator goroutine; row indices reflect
 * emit order, duplicate payloads return the pre-existing row. Row 0 is
 * the fallback texture every unresolved reference points at.
 */
type TextureEmitter struct {
	entries []pak.TextureResourceDesc
	data    bytes.Buffer
	byHash  map[[32]byte]uint32
}

// FallbackTexturePayload is the 1x1 magenta RGBA8 texel in row 0.
var FallbackTexturePayload = []byte{0xff, 0x00, 0xff, 0xff}

func NewTextureEmitter() *TextureEmitter {
	e := &TextureEmitter{byHash: make(map[[32]byte]uint32)}
	e.Emit(FallbackTexturePayload, pak.TextureResourceDesc{
		TextureType: uint8(metadata.TextureType2D),
		Format:      uint8(metadata.FormatRGBA8Unorm),
		Width:       1,
		Height:      1,
		Depth:       1,
		ArraySize:   1,
		MipCount:    1,
	})
	return e
}

// Emit appends a payload and its descriptor, returning the table row
// index. The second return is true when the payload deduplicated
// against an earlier emit.
func (e *TextureEmitter) Emit(payload []byte, desc pak.TextureResourceDesc) (uint32, bool) {
	sig := payloadSignature(textureSignatureContext, payload)
	if idx, ok := e.byHash[sig]; ok {
		return idx, true
	}
	desc.DataOffset = uint64(e.data.Len())
	desc.SizeBytes = uint32(len(payload))
	e.data.Write(payload)
	idx := uint32(len(e.entries))
	e.entries = append(e.entries, desc)
	e.byHash[sig] = idx
	return idx, false
}

func (e *TextureEmitter) Count() int {
	return len(e.entries)
}

// TableBytes encodes every descriptor row in emit order.
func (e *TextureEmitter) TableBytes() []byte {
	out := make([]byte, 0, len(e.entries)*pak.TextureDescSize)
	for i := range e.entries {
		out = pak.EncodeTextureDesc(out, &e.entries[i])
	}
	return out
}

func (e *TextureEmitter) DataBytes() []byte {
	return e.data.Bytes()
}

func (e *TextureEmitter) Entries() []pak.TextureResourceDesc {
	return e.entries
}

/**
 * @brief Buffer-side twin of the texture emitter. Row 0 is a zero-size
 * sentinel so a zero buffer index always means "no data".
 */
type BufferEmitter struct {
	entries []pak.BufferResourceDesc
	data    bytes.Buffer
	byHash  map[[32]byte]uint32
}

func NewBufferEmitter() *BufferEmitter {
	e := &BufferEmitter{byHash: make(map[[32]byte]uint32)}
	e.entries = append(e.entries, pak.BufferResourceDesc{})
	return e
}

func (e *BufferEmitter) Emit(payload []byte, desc pak.BufferResourceDesc) (uint32, bool) {
	sig := payloadSignature(bufferSignatureContext, payload)
	if idx, ok := e.byHash[sig]; ok {
		return idx, true
	}
	desc.DataOffset = uint64(e.data.Len())
	desc.SizeBytes = uint32(len(payload))
	e.data.Write(payload)
	idx := uint32(len(e.entries))
	e.entries = append(e.entries, desc)
	e.byHash[sig] = idx
	return idx, false
}

func (e *BufferEmitter) Count() int {
	return len(e.entries)
}

func (e *BufferEmitter) TableBytes() []byte {
	out := make([]byte, 0, len(e.entries)*pak.BufferDescSize)
	for i := range e.entries {
		out = pak.EncodeBufferDesc(out, &e.entries[i])
	}
	return out
}

func (e *BufferEmitter) DataBytes() []byte {
	return e.data.Bytes()
}

func (e *BufferEmitter) Entries() []pak.BufferResourceDesc {
	return e.entries
}
