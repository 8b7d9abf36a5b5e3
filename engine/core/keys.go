package core

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// AssetKey is the opaque 16-byte identifier of a cooked asset. Keys are
// compared byte-wise; the zero key is never a valid asset.
type AssetKey [16]byte

// SourceKey is the 16-byte GUID of a cooked container instance. A zero
// source key is invalid everywhere.
type SourceKey [16]byte

// Namespace for path-derived asset keys. Fixed forever: changing it would
// re-key every cooked container in existence.
var assetKeyNamespace = uuid.MustParse("7a1f6f30-9c1e-4b8e-b3a4-0d2f5d1c9e66")

// AssetKeyFromPath derives a stable asset key from a virtual path. The same
// path always yields the same key.
func AssetKeyFromPath(virtualPath string) AssetKey {
	return AssetKey(uuid.NewSHA1(assetKeyNamespace, []byte(virtualPath)))
}

// NewRandomAssetKey returns a fresh random asset key.
func NewRandomAssetKey() AssetKey {
	return AssetKey(uuid.New())
}

// NewSourceKey returns a fresh random, non-zero container GUID.
func NewSourceKey() SourceKey {
	return SourceKey(uuid.New())
}

func (k AssetKey) IsZero() bool {
	return k == AssetKey{}
}

func (k AssetKey) String() string {
	return hex.EncodeToString(k[:])
}

// ParseAssetKey parses the 32-character hex form produced by String.
func ParseAssetKey(s string) (AssetKey, error) {
	var k AssetKey
	if len(s) != 32 {
		return k, fmt.Errorf("asset key must be 32 hex characters, got %d", len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return k, fmt.Errorf("asset key is not valid hex: %w", err)
	}
	copy(k[:], b)
	return k, nil
}

func (k SourceKey) IsZero() bool {
	return k == SourceKey{}
}

func (k SourceKey) String() string {
	return uuid.UUID(k).String()
}
