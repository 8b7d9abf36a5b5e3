package importer

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"

	"github.com/zeebo/blake3"

	"github.com/spaghettifunk/oxygen/engine/content"
	"github.com/spaghettifunk/oxygen/engine/core"
	"github.com/spaghettifunk/oxygen/engine/pak"
	"github.com/spaghettifunk/oxygen/engine/renderer/metadata"
)

type textureInput struct {
	path    string
	raw     []byte
	options TextureOptions
}

func (t textureInput) SourcePath() string { return t.path }

type texturePayload struct {
	blob     []byte
	width    uint32
	height   uint32
	mipCount uint8
	format   metadata.Format
}

/**
 * @brief Imports one source image into a cooked texture asset: decode,
 * optional mip chain, resource table emit, loose container write.
 */
type TextureJob struct {
	req ImportRequest
}

func NewTextureJob(req ImportRequest) (Job, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	return &TextureJob{req: req}, nil
}

func (j *TextureJob) Run(ctx context.Context, env *JobEnv) ImportReport {
	name := requestName(j.req)

	raw, err := os.ReadFile(j.req.SourcePath)
	if err != nil {
		return failedReport(j.req, "texture.read_failed", err)
	}

	pipe := NewPipeline("texture", env.Options.PipelineWorkers, env.Options.PipelineCapacity, env.Pool, decodeTextureStage)
	pipe.Start(ctx)
	pipe.Submit(textureInput{path: j.req.SourcePath, raw: raw, options: j.req.Texture})
	pipe.Close()

	result, ok := pipe.Collect()
	env.progress("texture", pipe.GetProgress())
	if !ok {
		return failedReport(j.req, "texture.pipeline_closed", fmt.Errorf("decode pipeline produced no result"))
	}
	if !result.Success {
		return ImportReport{CookedRoot: j.req.CookedRoot, Diagnostics: result.Diagnostics}
	}
	payload := result.Value

	emitter := NewTextureEmitter()
	index, deduped := emitter.Emit(payload.blob, pak.TextureResourceDesc{
		TextureType: uint8(metadata.TextureType2D),
		Format:      uint8(payload.format),
		Width:       payload.width,
		Height:      payload.height,
		Depth:       1,
		ArraySize:   1,
		MipCount:    payload.mipCount,
	})
	if deduped && j.req.Verbose {
		core.LogDebug("importer: texture %s deduplicated to table row %d", name, index)
	}

	writer, err := content.NewLooseCookedWriter(j.req.CookedRoot)
	if err != nil {
		return failedReport(j.req, "texture.writer_failed", err)
	}
	writer.SetComputeSha256(j.req.ContentHashing)

	vpath := virtualPathFor(j.req, name, ".otex")
	desc := pak.TextureAssetDesc{
		Header: pak.AssetHeader{
			AssetType:   pak.AssetTypeTexture,
			Name:        name,
			Version:     1,
			ContentHash: contentHash64(payload.blob),
		},
		TableIndex: index,
	}
	key := core.AssetKeyFromPath(vpath)
	if err := writer.WriteAssetDescriptor(key, pak.AssetTypeTexture, vpath, "textures/"+name+".otex", pak.EncodeTextureAsset(&desc)); err != nil {
		return failedReport(j.req, "texture.write_failed", err)
	}
	if err := writer.WriteFile(content.FileKindTexturesTable, "textures/textures.table.bin", emitter.TableBytes()); err != nil {
		return failedReport(j.req, "texture.write_failed", err)
	}
	if err := writer.WriteFile(content.FileKindTexturesData, "textures/textures.data.bin", emitter.DataBytes()); err != nil {
		return failedReport(j.req, "texture.write_failed", err)
	}
	fin, err := writer.Finish()
	if err != nil {
		return failedReport(j.req, "texture.finish_failed", err)
	}

	return ImportReport{
		CookedRoot:      j.req.CookedRoot,
		SourceKey:       fin.SourceKey,
		Diagnostics:     result.Diagnostics,
		TexturesWritten: 1,
		Success:         true,
	}
}

func decodeTextureStage(ctx context.Context, in textureInput) (texturePayload, []Diagnostic, error) {
	img, _, err := image.Decode(bytes.NewReader(in.raw))
	if err != nil {
		return texturePayload{}, nil, fmt.Errorf("decoding %s: %w", in.path, err)
	}

	rgba := toRGBA(img, in.options.FlipY)
	width := uint32(rgba.Rect.Dx())
	height := uint32(rgba.Rect.Dy())

	var diags []Diagnostic
	if in.options.Cubemap || in.options.EquirectToCube {
		diags = append(diags, Diagnostic{
			Severity:   SeverityWarning,
			Code:       "texture.option_ignored",
			Message:    "cube assembly is not applied to single 2D sources",
			SourcePath: in.path,
		})
	}

	mips := []*image.RGBA{rgba}
	if in.options.MipPolicy != "none" {
		mips = appendMipChain(ctx, mips, in.options)
	}
	if ctx.Err() != nil {
		return texturePayload{}, diags, fmt.Errorf("%w: mip generation interrupted", core.ErrCanceled)
	}

	var blob bytes.Buffer
	for _, mip := range mips {
		blob.Write(tightRGBA(mip))
	}

	format := metadata.FormatRGBA8Unorm
	if in.options.ColorSpace == "srgb" {
		format = metadata.FormatRGBA8UnormSRGB
	}
	return texturePayload{
		blob:     blob.Bytes(),
		width:    width,
		height:   height,
		mipCount: uint8(len(mips)),
		format:   format,
	}, diags, nil
}

func toRGBA(img image.Image, flipY bool) *image.RGBA {
	bounds := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	xdraw.Draw(rgba, rgba.Rect, img, bounds.Min, xdraw.Src)
	if !flipY {
		return rgba
	}
	flipped := image.NewRGBA(rgba.Rect)
	h := rgba.Rect.Dy()
	for y := 0; y < h; y++ {
		src := rgba.Pix[y*rgba.Stride : y*rgba.Stride+rgba.Rect.Dx()*4]
		dst := flipped.Pix[(h-1-y)*flipped.Stride:]
		copy(dst, src)
	}
	return flipped
}

func appendMipChain(ctx context.Context, mips []*image.RGBA, opts TextureOptions) []*image.RGBA {
	filter := mipFilter(opts.MipFilter)
	for {
		if ctx.Err() != nil {
			return mips
		}
		prev := mips[len(mips)-1]
		w, h := prev.Rect.Dx(), prev.Rect.Dy()
		if w == 1 && h == 1 {
			return mips
		}
		if opts.MaxMips > 0 && len(mips) >= opts.MaxMips {
			return mips
		}
		nw, nh := w/2, h/2
		if nw < 1 {
			nw = 1
		}
		if nh < 1 {
			nh = 1
		}
		next := image.NewRGBA(image.Rect(0, 0, nw, nh))
		filter.Scale(next, next.Rect, prev, prev.Rect, xdraw.Src, nil)
		mips = append(mips, next)
	}
}

func mipFilter(name string) xdraw.Scaler {
	switch name {
	case "box", "bilinear":
		return xdraw.ApproxBiLinear
	case "nearest":
		return xdraw.NearestNeighbor
	default:
		return xdraw.CatmullRom
	}
}

// tightRGBA strips row padding so payload rows are width*4 bytes.
func tightRGBA(img *image.RGBA) []byte {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	rowBytes := w * 4
	if img.Stride == rowBytes {
		return img.Pix[:rowBytes*h]
	}
	out := make([]byte, rowBytes*h)
	for y := 0; y < h; y++ {
		copy(out[y*rowBytes:], img.Pix[y*img.Stride:y*img.Stride+rowBytes])
	}
	return out
}

// contentHash64 truncates a blake3 digest to the descriptor's u64 slot.
func contentHash64(payload []byte) uint64 {
	sum := blake3.Sum256(payload)
	return binary.LittleEndian.Uint64(sum[:8])
}
