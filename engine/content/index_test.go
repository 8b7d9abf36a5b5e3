package content

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/spaghettifunk/oxygen/engine/core"
	"github.com/spaghettifunk/oxygen/engine/pak"
)

var le = binary.LittleEndian

func testIndex() *Index {
	var key core.SourceKey
	key[0] = 0xAB
	return &Index{
		SourceKey:      key,
		ContentVersion: 2,
		Assets: []AssetEntry{
			{
				Key:            core.AssetKey{0x01},
				DescriptorPath: "Materials/A.odesc",
				VirtualPath:    "/Materials/A.omat",
				DescriptorSize: 256,
				AssetType:      pak.AssetTypeMaterial,
			},
			{
				Key:            core.AssetKey{0x02},
				DescriptorPath: "Geometry/rock.odesc",
				VirtualPath:    "/Geometry/rock.ogeo",
				DescriptorSize: 512,
				AssetType:      pak.AssetTypeGeometry,
			},
		},
		Files: []FileRecord{
			{Kind: FileKindBuffersTable, RelPath: "Resources/buffers.table", Size: 64},
			{Kind: FileKindBuffersData, RelPath: "Resources/buffers.data", Size: 4096},
		},
	}
}

func TestIndexRoundTrip(t *testing.T) {
	ix := testIndex()
	buf, err := EncodeIndex(ix)
	if err != nil {
		t.Fatalf("EncodeIndex: %v", err)
	}
	back, err := DecodeIndex(buf)
	if err != nil {
		t.Fatalf("DecodeIndex: %v", err)
	}
	if back.SourceKey != ix.SourceKey || back.ContentVersion != 2 {
		t.Errorf("identity did not round-trip: %+v", back)
	}
	if len(back.Assets) != 2 || back.Assets[1].VirtualPath != "/Geometry/rock.ogeo" {
		t.Errorf("assets did not round-trip: %+v", back.Assets)
	}
	if fr, ok := back.FindFile(FileKindBuffersData); !ok || fr.Size != 4096 {
		t.Errorf("file records did not round-trip: %+v", back.Files)
	}
}

func TestIndexRejectsCorruption(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(ix *Index)
	}{
		{"zero source key", func(ix *Index) { ix.SourceKey = core.SourceKey{} }},
		{"duplicate asset key", func(ix *Index) { ix.Assets[1].Key = ix.Assets[0].Key }},
		{"duplicate virtual path", func(ix *Index) { ix.Assets[1].VirtualPath = ix.Assets[0].VirtualPath }},
		{"table without data", func(ix *Index) { ix.Files = ix.Files[:1] }},
		{"data without table", func(ix *Index) { ix.Files = ix.Files[1:] }},
		{"bad relpath", func(ix *Index) { ix.Assets[0].DescriptorPath = "/abs/path" }},
		{"bad virtual path", func(ix *Index) { ix.Assets[0].VirtualPath = "relative" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ix := testIndex()
			tc.mutate(ix)
			buf, err := EncodeIndex(ix)
			if err != nil {
				// Rejected at encode time is just as good.
				return
			}
			if _, err := DecodeIndex(buf); !errors.Is(err, core.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestIndexRejectsWrappingSectionOffsets(t *testing.T) {
	buf, err := EncodeIndex(testIndex())
	if err != nil {
		t.Fatal(err)
	}

	// Header field offsets: string table offset/size at 32/40, asset
	// entries offset/count at 48/56, file records offset/count at 64/72.
	tests := []struct {
		name   string
		mutate func(bad []byte)
	}{
		{"string table offset wraps", func(bad []byte) {
			le.PutUint64(bad[32:], ^uint64(0))
			le.PutUint64(bad[40:], 2)
		}},
		{"string table size wraps", func(bad []byte) {
			le.PutUint64(bad[40:], ^uint64(0))
		}},
		{"asset entries offset wraps", func(bad []byte) {
			le.PutUint64(bad[48:], ^uint64(0)-4)
			le.PutUint32(bad[56:], 3)
		}},
		{"asset count wraps", func(bad []byte) {
			le.PutUint32(bad[56:], ^uint32(0))
		}},
		{"file records offset wraps", func(bad []byte) {
			le.PutUint64(bad[64:], ^uint64(0)-4)
			le.PutUint32(bad[72:], 3)
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			bad := append([]byte(nil), buf...)
			tc.mutate(bad)
			if _, err := DecodeIndex(bad); !errors.Is(err, core.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestIndexRejectsBadMagicAndFlags(t *testing.T) {
	buf, err := EncodeIndex(testIndex())
	if err != nil {
		t.Fatal(err)
	}

	bad := append([]byte(nil), buf...)
	bad[0] = 'X'
	if _, err := DecodeIndex(bad); err == nil {
		t.Error("bad magic accepted")
	}

	bad = append([]byte(nil), buf...)
	bad[10] |= 0x80 // unknown flag bit
	if _, err := DecodeIndex(bad); err == nil {
		t.Error("unknown flag bits accepted")
	}
}
