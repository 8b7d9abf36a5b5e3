package content

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/spaghettifunk/oxygen/engine/core"
	"github.com/spaghettifunk/oxygen/engine/pak"
)

func testMaterialBytes(t *testing.T) []byte {
	t.Helper()
	mat := &pak.MaterialAssetDesc{
		Header:       pak.AssetHeader{Name: "mat_a", Version: 1},
		BaseColor:    [4]float32{1, 0.5, 0.25, 1},
		ShaderStages: 0b0101,
		ShaderRefs: []pak.ShaderReferenceDesc{
			{Stage: 1 << 0, ShaderUniqueID: "VS@standard"},
			{Stage: 1 << 2, ShaderUniqueID: "PS@standard"},
		},
	}
	buf, err := pak.EncodeMaterial(mat)
	if err != nil {
		t.Fatal(err)
	}
	return buf
}

func TestWriteFinishOpenRoundTrip(t *testing.T) {
	root := t.TempDir()
	w, err := NewLooseCookedWriter(root)
	if err != nil {
		t.Fatal(err)
	}

	var sourceKey core.SourceKey
	for i := range sourceKey {
		sourceKey[i] = byte(i + 1)
	}
	if err := w.SetSourceKey(sourceKey); err != nil {
		t.Fatal(err)
	}
	w.SetContentVersion(3)

	descBytes := testMaterialBytes(t)
	key := core.AssetKeyFromPath("/Materials/A.omat")
	if err := w.WriteAssetDescriptor(key, pak.AssetTypeMaterial, "/Materials/A.omat", "Materials/A.odesc", descBytes); err != nil {
		t.Fatalf("WriteAssetDescriptor: %v", err)
	}

	res, err := w.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if res.SourceKey != sourceKey || res.ContentVersion != 3 {
		t.Errorf("finish result %+v", res)
	}

	src, err := OpenLooseSource(root)
	if err != nil {
		t.Fatalf("OpenLooseSource: %v", err)
	}
	if src.SourceKey() != sourceKey {
		t.Errorf("source key %s", src.SourceKey())
	}

	loc, ok := src.FindAsset(key)
	if !ok {
		t.Fatal("asset not found")
	}
	if want := uint32(pak.MaterialDescSize + 2*pak.ShaderRefDescSize); loc.DescriptorSize != want {
		t.Errorf("descriptor size %d, want %d", loc.DescriptorSize, want)
	}
	r, err := src.CreateAssetDescriptorReader(loc)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, descBytes) {
		t.Error("descriptor bytes did not round-trip")
	}
}

func TestDuplicateVirtualPathRejected(t *testing.T) {
	root := t.TempDir()
	w, err := NewLooseCookedWriter(root)
	if err != nil {
		t.Fatal(err)
	}

	desc := testMaterialBytes(t)
	keyA := core.AssetKey{0x11}
	keyB := core.AssetKey{0x22}
	if err := w.WriteAssetDescriptor(keyA, pak.AssetTypeMaterial, "/Materials/A.omat", "Materials/A.odesc", desc); err != nil {
		t.Fatal(err)
	}
	err = w.WriteAssetDescriptor(keyB, pak.AssetTypeMaterial, "/Materials/A.omat", "Materials/B.odesc", desc)
	if !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	if _, err := w.Finish(); err != nil {
		t.Fatal(err)
	}
	src, err := OpenLooseSource(root)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := src.FindAsset(keyB); ok {
		t.Error("conflicting asset must not be indexed")
	}
	if loc, ok := src.FindAssetByPath("/Materials/A.omat"); !ok || loc.Key != keyA {
		t.Errorf("virtual path resolves to %v", loc.Key)
	}
}

func TestSameKeyUpdateInPlace(t *testing.T) {
	root := t.TempDir()
	w, err := NewLooseCookedWriter(root)
	if err != nil {
		t.Fatal(err)
	}

	desc := testMaterialBytes(t)
	key := core.AssetKey{0x42}
	if err := w.WriteAssetDescriptor(key, pak.AssetTypeMaterial, "/Materials/A.omat", "Materials/A.odesc", desc); err != nil {
		t.Fatal(err)
	}
	// Re-cooking the same key with a new path is an update, not a conflict.
	if err := w.WriteAssetDescriptor(key, pak.AssetTypeMaterial, "/Materials/A2.omat", "Materials/A.odesc", desc); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Finish(); err != nil {
		t.Fatal(err)
	}

	src, err := OpenLooseSource(root)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := src.FindAssetByPath("/Materials/A.omat"); ok {
		t.Error("old virtual path should have been released")
	}
	if loc, ok := src.FindAssetByPath("/Materials/A2.omat"); !ok || loc.Key != key {
		t.Error("updated virtual path not mapped")
	}
}

func TestMissingPairRejected(t *testing.T) {
	root := t.TempDir()
	w, err := NewLooseCookedWriter(root)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.WriteFile(FileKindBuffersTable, "Resources/buffers.table", make([]byte, pak.BufferDescSize)); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Finish(); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected pair validation error, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, IndexFileName)); !os.IsNotExist(err) {
		t.Error("failed Finish must not publish an index")
	}
}

func TestReopenPreservesIdentity(t *testing.T) {
	root := t.TempDir()
	w, err := NewLooseCookedWriter(root)
	if err != nil {
		t.Fatal(err)
	}
	w.SetContentVersion(9)
	desc := testMaterialBytes(t)
	key := core.AssetKey{0x01}
	if err := w.WriteAssetDescriptor(key, pak.AssetTypeMaterial, "/Materials/A.omat", "Materials/A.odesc", desc); err != nil {
		t.Fatal(err)
	}
	first, err := w.Finish()
	if err != nil {
		t.Fatal(err)
	}

	// A second session merges against the committed index.
	w2, err := NewLooseCookedWriter(root)
	if err != nil {
		t.Fatal(err)
	}
	key2 := core.AssetKey{0x02}
	if err := w2.WriteAssetDescriptor(key2, pak.AssetTypeMaterial, "/Materials/B.omat", "Materials/B.odesc", desc); err != nil {
		t.Fatal(err)
	}
	second, err := w2.Finish()
	if err != nil {
		t.Fatal(err)
	}
	if second.SourceKey != first.SourceKey {
		t.Error("source key must be preserved across rewrites")
	}
	if second.ContentVersion != 9 {
		t.Errorf("content version %d, want 9", second.ContentVersion)
	}

	src, err := OpenLooseSource(root)
	if err != nil {
		t.Fatal(err)
	}
	for _, k := range []core.AssetKey{key, key2} {
		if _, ok := src.FindAsset(k); !ok {
			t.Errorf("asset %s missing after merge", k)
		}
	}
}

func TestFinishAtomicity(t *testing.T) {
	root := t.TempDir()
	w, err := NewLooseCookedWriter(root)
	if err != nil {
		t.Fatal(err)
	}
	desc := testMaterialBytes(t)
	if err := w.WriteAssetDescriptor(core.AssetKey{0x01}, pak.AssetTypeMaterial, "/Materials/A.omat", "Materials/A.odesc", desc); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Finish(); err != nil {
		t.Fatal(err)
	}

	w2, err := NewLooseCookedWriter(root)
	if err != nil {
		t.Fatal(err)
	}
	if err := w2.WriteAssetDescriptor(core.AssetKey{0x02}, pak.AssetTypeMaterial, "/Materials/B.omat", "Materials/B.odesc", desc); err != nil {
		t.Fatal(err)
	}

	// Before the second Finish, a reader sees exactly the first commit.
	src, err := OpenLooseSource(root)
	if err != nil {
		t.Fatalf("container torn mid-session: %v", err)
	}
	if _, ok := src.FindAsset(core.AssetKey{0x02}); ok {
		t.Error("uncommitted asset visible to reader")
	}

	if _, err := w2.Finish(); err != nil {
		t.Fatal(err)
	}
	src2, err := OpenLooseSource(root)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := src2.FindAsset(core.AssetKey{0x02}); !ok {
		t.Error("committed asset not visible")
	}
}

func TestHashingDisabledZeroesDigests(t *testing.T) {
	root := t.TempDir()
	w, err := NewLooseCookedWriter(root)
	if err != nil {
		t.Fatal(err)
	}
	w.SetComputeSha256(false)
	desc := testMaterialBytes(t)
	if err := w.WriteAssetDescriptor(core.AssetKey{0x07}, pak.AssetTypeMaterial, "/Materials/A.omat", "Materials/A.odesc", desc); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Finish(); err != nil {
		t.Fatal(err)
	}

	// Corrupt the descriptor contents but keep the size. With zero
	// hashes the reader must skip the digest check and still open.
	path := filepath.Join(root, "Materials", "A.odesc")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[200] ^= 0xFF
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenLooseSource(root); err != nil {
		t.Fatalf("zero hash must skip verification: %v", err)
	}
}

func TestHashMismatchRejected(t *testing.T) {
	root := t.TempDir()
	w, err := NewLooseCookedWriter(root)
	if err != nil {
		t.Fatal(err)
	}
	desc := testMaterialBytes(t)
	if err := w.WriteAssetDescriptor(core.AssetKey{0x07}, pak.AssetTypeMaterial, "/Materials/A.omat", "Materials/A.odesc", desc); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Finish(); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(root, "Materials", "A.odesc")
	data, _ := os.ReadFile(path)
	data[200] ^= 0xFF
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenLooseSource(root); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected hash mismatch rejection, got %v", err)
	}
}
