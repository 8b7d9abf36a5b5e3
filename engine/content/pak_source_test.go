package content

import (
	"bytes"
	"io"
	"path/filepath"
	"testing"

	"github.com/spaghettifunk/oxygen/engine/core"
	"github.com/spaghettifunk/oxygen/engine/pak"
)

func TestPakSourceServesPackedContainer(t *testing.T) {
	key := core.NewSourceKey()
	p, err := pak.NewPacker(pak.PackerOptions{SourceKey: key, ContentVersion: 1, ComputeCRC: true})
	if err != nil {
		t.Fatal(err)
	}

	descBytes := testMaterialBytes(t)
	assetKey := core.AssetKeyFromPath("/Materials/A.omat")
	if err := p.AddAsset(assetKey, pak.AssetTypeMaterial, "/Materials/A.omat", descBytes); err != nil {
		t.Fatal(err)
	}

	texData := []byte{0xff, 0x00, 0xff, 0xff}
	p.SetTextureResources(texData, []pak.TextureResourceDesc{
		{SizeBytes: 4, Width: 1, Height: 1, Depth: 1, ArraySize: 1, MipCount: 1},
	})

	path := filepath.Join(t.TempDir(), "content.pak")
	if err := p.WriteTo(path); err != nil {
		t.Fatal(err)
	}

	var src ContentSource
	src, err = OpenPakSource(path)
	if err != nil {
		t.Fatalf("OpenPakSource: %v", err)
	}
	if src.SourceKey() != key {
		t.Errorf("source key %s", src.SourceKey())
	}

	loc, ok := src.FindAsset(assetKey)
	if !ok {
		t.Fatal("asset not found in pak")
	}
	r, err := src.CreateAssetDescriptorReader(loc)
	if err != nil {
		t.Fatal(err)
	}
	got, err := io.ReadAll(r)
	r.Close()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, descBytes) {
		t.Error("descriptor bytes differ after packing")
	}

	if ti := src.TextureTable(); ti == nil || ti.Count != 1 || ti.EntrySize != pak.TextureDescSize {
		t.Errorf("texture table info: %+v", src.TextureTable())
	}
	if bi := src.BufferTable(); bi != nil {
		t.Errorf("unexpected buffer table: %+v", bi)
	}

	dr, err := src.CreateTextureDataReader()
	if err != nil {
		t.Fatal(err)
	}
	defer dr.Close()
	data, err := io.ReadAll(dr)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, texData) {
		t.Errorf("texture data %v, want %v", data, texData)
	}

	// Two readers over the same section must not share a position.
	r1, err := src.CreateTextureTableReader()
	if err != nil {
		t.Fatal(err)
	}
	defer r1.Close()
	r2, err := src.CreateTextureTableReader()
	if err != nil {
		t.Fatal(err)
	}
	defer r2.Close()
	b1 := make([]byte, 8)
	if _, err := io.ReadFull(r1, b1); err != nil {
		t.Fatal(err)
	}
	b2 := make([]byte, 8)
	if _, err := io.ReadFull(r2, b2); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(b1, b2) {
		t.Error("independent readers observed different bytes at the same offset")
	}
}
