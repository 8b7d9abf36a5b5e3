package content

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spaghettifunk/oxygen/engine/core"
	"github.com/spaghettifunk/oxygen/engine/pak"
)

// FinishResult reports the committed container identity.
type FinishResult struct {
	SourceKey      core.SourceKey
	ContentVersion uint16
}

/**
 * @brief Produces or updates a loose cooked container. The container is
 * append-with-update-by-key: writing an existing asset key replaces its
 * entry, entries are never removed. Finish commits the new index
 * atomically; until then readers keep seeing the previous state.
 */
type LooseCookedWriter struct {
	root          string
	index         Index
	byKey         map[core.AssetKey]int
	byPath        map[string]core.AssetKey
	computeSHA256 bool
	finished      bool
}

// NewLooseCookedWriter opens a writer over cookedRoot. If a prior index
// exists it is read and merged, preserving GUID and content version
// unless the caller overrides them.
func NewLooseCookedWriter(cookedRoot string) (*LooseCookedWriter, error) {
	if err := os.MkdirAll(cookedRoot, 0o755); err != nil {
		return nil, fmt.Errorf("creating cooked root: %w", err)
	}

	w := &LooseCookedWriter{
		root:          cookedRoot,
		byKey:         make(map[core.AssetKey]int),
		byPath:        make(map[string]core.AssetKey),
		computeSHA256: true,
	}

	indexPath := filepath.Join(cookedRoot, IndexFileName)
	raw, err := os.ReadFile(indexPath)
	switch {
	case err == nil:
		prior, derr := DecodeIndex(raw)
		if derr != nil {
			return nil, derr
		}
		w.index = *prior
		for i, a := range w.index.Assets {
			w.byKey[a.Key] = i
			if a.VirtualPath != "" {
				w.byPath[a.VirtualPath] = a.Key
			}
		}
	case os.IsNotExist(err):
		w.index.SourceKey = core.NewSourceKey()
	default:
		return nil, fmt.Errorf("reading prior index: %w", err)
	}
	return w, nil
}

// SetSourceKey overrides the container GUID.
func (w *LooseCookedWriter) SetSourceKey(key core.SourceKey) error {
	if key.IsZero() {
		return fmt.Errorf("%w: source key must be non-zero", core.ErrValidation)
	}
	w.index.SourceKey = key
	return nil
}

// SetContentVersion overrides the content version.
func (w *LooseCookedWriter) SetContentVersion(v uint16) {
	w.index.ContentVersion = v
}

// SetComputeSha256 toggles descriptor and file hashing. When disabled,
// stored hashes are zero and readers skip the check.
func (w *LooseCookedWriter) SetComputeSha256(enabled bool) {
	w.computeSHA256 = enabled
}

// WriteAssetDescriptor persists a descriptor under the cooked root and
// records its index entry. Writing an existing key updates the entry in
// place; mapping a virtual path that already belongs to a different key
// fails with a conflict.
func (w *LooseCookedWriter) WriteAssetDescriptor(key core.AssetKey, assetType pak.AssetType, virtualPath, descriptorRelPath string, descriptor []byte) error {
	if w.finished {
		return fmt.Errorf("%w: writer already finished", core.ErrNotReady)
	}
	if key.IsZero() {
		return fmt.Errorf("%w: zero asset key", core.ErrValidation)
	}
	if !pak.ValidAssetType(assetType) {
		return fmt.Errorf("%w: unknown asset type %d", core.ErrValidation, assetType)
	}
	if err := ValidateVirtualPath(virtualPath); err != nil {
		return err
	}
	if err := ValidateRelPath(descriptorRelPath); err != nil {
		return err
	}
	if owner, taken := w.byPath[virtualPath]; taken && owner != key {
		return fmt.Errorf("%w: duplicate virtual path %q (already mapped to %s)", core.ErrValidation, virtualPath, owner)
	}

	if err := w.writeFileUnder(descriptorRelPath, descriptor); err != nil {
		return err
	}

	entry := AssetEntry{
		Key:            key,
		DescriptorPath: descriptorRelPath,
		VirtualPath:    virtualPath,
		DescriptorSize: uint32(len(descriptor)),
		AssetType:      assetType,
	}
	if w.computeSHA256 {
		entry.DescriptorSHA256 = sha256.Sum256(descriptor)
	}

	if i, exists := w.byKey[key]; exists {
		// The key keeps its slot; an updated virtual path releases the
		// old mapping.
		if old := w.index.Assets[i].VirtualPath; old != "" && old != virtualPath {
			delete(w.byPath, old)
		}
		w.index.Assets[i] = entry
	} else {
		w.byKey[key] = len(w.index.Assets)
		w.index.Assets = append(w.index.Assets, entry)
	}
	w.byPath[virtualPath] = key
	return nil
}

// WriteFile persists one bulk file and records its index record.
// Writing the same kind twice replaces the prior record.
func (w *LooseCookedWriter) WriteFile(kind FileKind, relPath string, data []byte) error {
	if w.finished {
		return fmt.Errorf("%w: writer already finished", core.ErrNotReady)
	}
	if kind < FileKindBuffersTable || kind > FileKindTexturesData {
		return fmt.Errorf("%w: unknown file kind %d", core.ErrValidation, kind)
	}
	if err := ValidateRelPath(relPath); err != nil {
		return err
	}
	if err := w.writeFileUnder(relPath, data); err != nil {
		return err
	}

	rec := FileRecord{
		Kind:    kind,
		RelPath: relPath,
		Size:    uint64(len(data)),
	}
	if w.computeSHA256 {
		rec.SHA256 = sha256.Sum256(data)
	}
	for i := range w.index.Files {
		if w.index.Files[i].Kind == kind {
			w.index.Files[i] = rec
			return nil
		}
	}
	w.index.Files = append(w.index.Files, rec)
	return nil
}

// Finish validates the pair invariants and atomically commits the new
// index: it is encoded to a shadow file and renamed over the live one,
// so a concurrent reader observes either the old or the new container,
// never a torn one.
func (w *LooseCookedWriter) Finish() (FinishResult, error) {
	if w.finished {
		return FinishResult{}, fmt.Errorf("%w: writer already finished", core.ErrNotReady)
	}
	if err := validateFilePairs(&w.index); err != nil {
		return FinishResult{}, err
	}

	encoded, err := EncodeIndex(&w.index)
	if err != nil {
		return FinishResult{}, err
	}

	// Decode what we are about to publish; a container that would fail
	// to open must never hit the disk.
	if _, err := DecodeIndex(encoded); err != nil {
		return FinishResult{}, err
	}

	tmp, err := os.CreateTemp(w.root, ".index-*")
	if err != nil {
		return FinishResult{}, fmt.Errorf("creating shadow index: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(encoded); err != nil {
		tmp.Close()
		return FinishResult{}, fmt.Errorf("writing shadow index: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return FinishResult{}, fmt.Errorf("syncing shadow index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return FinishResult{}, fmt.Errorf("closing shadow index: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(w.root, IndexFileName)); err != nil {
		return FinishResult{}, fmt.Errorf("publishing index: %w", err)
	}

	w.finished = true
	return FinishResult{SourceKey: w.index.SourceKey, ContentVersion: w.index.ContentVersion}, nil
}

func (w *LooseCookedWriter) writeFileUnder(relPath string, data []byte) error {
	path := filepath.Join(w.root, filepath.FromSlash(relPath))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", relPath, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", relPath, err)
	}
	return nil
}
