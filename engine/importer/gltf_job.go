package importer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/spaghettifunk/oxygen/engine/content"
	"github.com/spaghettifunk/oxygen/engine/core"
	"github.com/spaghettifunk/oxygen/engine/pak"
	"github.com/spaghettifunk/oxygen/engine/renderer/metadata"
)

// The subset of glTF 2.0 the importer consumes.

type gltfTextureRef struct {
	Index int `json:"index"`
}

type gltfNormalRef struct {
	Index int     `json:"index"`
	Scale float64 `json:"scale"`
}

type gltfPBR struct {
	BaseColorFactor          []float64       `json:"baseColorFactor"`
	BaseColorTexture         *gltfTextureRef `json:"baseColorTexture"`
	MetallicFactor           *float64        `json:"metallicFactor"`
	RoughnessFactor          *float64        `json:"roughnessFactor"`
	MetallicRoughnessTexture *gltfTextureRef `json:"metallicRoughnessTexture"`
}

type gltfMaterial struct {
	Name             string          `json:"name"`
	PBR              *gltfPBR        `json:"pbrMetallicRoughness"`
	NormalTexture    *gltfNormalRef  `json:"normalTexture"`
	OcclusionTexture *gltfTextureRef `json:"occlusionTexture"`
	EmissiveTexture  *gltfTextureRef `json:"emissiveTexture"`
}

type gltfPrimitive struct {
	Attributes map[string]int `json:"attributes"`
	Indices    *int           `json:"indices"`
	Material   *int           `json:"material"`
}

type gltfMesh struct {
	Name       string          `json:"name"`
	Primitives []gltfPrimitive `json:"primitives"`
}

type gltfNode struct {
	Name        string      `json:"name"`
	Mesh        *int        `json:"mesh"`
	Children    []int       `json:"children"`
	Translation *[3]float64 `json:"translation"`
	Rotation    *[4]float64 `json:"rotation"`
	Scale       *[3]float64 `json:"scale"`
}

type gltfScene struct {
	Nodes []int `json:"nodes"`
}

type gltfBuffer struct {
	URI        string `json:"uri"`
	ByteLength int    `json:"byteLength"`
}

type gltfBufferView struct {
	Buffer     int `json:"buffer"`
	ByteOffset int `json:"byteOffset"`
	ByteLength int `json:"byteLength"`
	ByteStride int `json:"byteStride"`
}

type gltfAccessor struct {
	BufferView    *int   `json:"bufferView"`
	ByteOffset    int    `json:"byteOffset"`
	ComponentType int    `json:"componentType"`
	Count         int    `json:"count"`
	Type          string `json:"type"`
}

type gltfImage struct {
	URI        string `json:"uri"`
	BufferView *int   `json:"bufferView"`
}

type gltfTexture struct {
	Source *int `json:"source"`
}

type gltfDocument struct {
	Buffers     []gltfBuffer     `json:"buffers"`
	BufferViews []gltfBufferView `json:"bufferViews"`
	Accessors   []gltfAccessor   `json:"accessors"`
	Images      []gltfImage      `json:"images"`
	Textures    []gltfTexture    `json:"textures"`
	Materials   []gltfMaterial   `json:"materials"`
	Meshes      []gltfMesh       `json:"meshes"`
	Nodes       []gltfNode       `json:"nodes"`
	Scenes      []gltfScene      `json:"scenes"`
	Scene       *int             `json:"scene"`
}

const (
	gltfComponentUint16  = 5123
	gltfComponentUint32  = 5125
	gltfComponentFloat32 = 5126
)

// Shader stage bits a cooked PBR material always carries.
const (
	shaderStageVertex   = 1 << 0
	shaderStageFragment = 1 << 1
)

/**
 * @brief Imports a glTF 2.0 document (.gltf or .glb) into cooked
 * materials, geometry, one scene asset, and the texture/buffer resource
 * tables feeding them.
 */
type GLTFJob struct {
	req ImportRequest
}

func NewGLTFJob(req ImportRequest) (Job, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	return &GLTFJob{req: req}, nil
}

type gltfMeshWork struct {
	path      string
	meshIndex int
	mesh      gltfMesh
	doc       *gltfDocument
	binaries  [][]byte
}

func (w gltfMeshWork) SourcePath() string { return w.path }

type gltfMeshResult struct {
	meshIndex  int
	vertexBlob []byte
	indexBlob  []byte
	lod        pak.MeshDesc
	boundsMin  [3]float32
	boundsMax  [3]float32
}

func (j *GLTFJob) Run(ctx context.Context, env *JobEnv) ImportReport {
	name := requestName(j.req)
	flags := j.req.Scene.Flags()

	raw, err := os.ReadFile(j.req.SourcePath)
	if err != nil {
		return failedReport(j.req, "gltf.read_failed", err)
	}
	jsonBytes, glbBin, err := splitGLB(raw)
	if err != nil {
		return failedReport(j.req, "gltf.parse_failed", err)
	}
	var doc gltfDocument
	if err := json.Unmarshal(jsonBytes, &doc); err != nil {
		return failedReport(j.req, "gltf.parse_failed", err)
	}

	binaries, diags := resolveBuffers(&doc, j.req.SourcePath, glbBin)

	writer, err := content.NewLooseCookedWriter(j.req.CookedRoot)
	if err != nil {
		return failedReport(j.req, "gltf.writer_failed", err)
	}
	writer.SetComputeSha256(j.req.ContentHashing)

	report := ImportReport{CookedRoot: j.req.CookedRoot, Diagnostics: diags}
	textures := NewTextureEmitter()
	buffers := NewBufferEmitter()

	// Image decode is the CPU-heavy stage; emits stay on this goroutine
	// so table rows are deterministic.
	imageRows := make(map[int]uint32, len(doc.Images))
	if flags.Textures && len(doc.Images) > 0 {
		imageRows = j.cookImages(ctx, env, &doc, binaries, textures, &report)
	}
	if ctx.Err() != nil {
		return canceledReport(j.req)
	}

	materialKeys := make(map[int][16]byte, len(doc.Materials))
	if flags.Materials {
		for i, mat := range doc.Materials {
			key, err := j.writeMaterial(writer, &doc, i, mat, imageRows)
			if err != nil {
				report.Diagnostics = append(report.Diagnostics, Diagnostic{
					Severity:   SeverityError,
					Code:       "gltf.material_failed",
					Message:    err.Error(),
					SourcePath: j.req.SourcePath,
					ObjectPath: fmt.Sprintf("/materials/%d", i),
				})
				continue
			}
			materialKeys[i] = key
			report.MaterialsWritten++
		}
	}

	geometryKeys := make(map[int][16]byte, len(doc.Meshes))
	if flags.Geometry && len(doc.Meshes) > 0 {
		pipe := NewPipeline("geometry", env.Options.PipelineWorkers, env.Options.PipelineCapacity, env.Pool, extractMeshStage)
		pipe.Start(ctx)
		go func() {
			for i, mesh := range doc.Meshes {
				pipe.Submit(gltfMeshWork{
					path: j.req.SourcePath, meshIndex: i, mesh: mesh,
					doc: &doc, binaries: binaries,
				})
			}
			pipe.Close()
		}()
		for {
			result, ok := pipe.Collect()
			if !ok {
				break
			}
			report.Diagnostics = append(report.Diagnostics, result.Diagnostics...)
			if !result.Success {
				continue
			}
			key, err := j.writeGeometry(writer, name, result.Value, materialKeys, buffers)
			if err != nil {
				report.Diagnostics = append(report.Diagnostics, Diagnostic{
					Severity:   SeverityError,
					Code:       "gltf.geometry_failed",
					Message:    err.Error(),
					SourcePath: j.req.SourcePath,
					ObjectPath: fmt.Sprintf("/meshes/%d", result.Value.meshIndex),
				})
				continue
			}
			geometryKeys[result.Value.meshIndex] = key
			report.GeometryWritten++
		}
		env.progress("geometry", pipe.GetProgress())
	}
	if ctx.Err() != nil {
		return canceledReport(j.req)
	}

	if flags.Scene {
		if err := j.writeScene(writer, name, &doc, geometryKeys); err != nil {
			report.Diagnostics = append(report.Diagnostics, Diagnostic{
				Severity: SeverityError, Code: "gltf.scene_failed",
				Message: err.Error(), SourcePath: j.req.SourcePath,
			})
		} else {
			report.ScenesWritten++
		}
	}

	if textures.Count() > 1 || flags.Textures {
		if err := writer.WriteFile(content.FileKindTexturesTable, "textures/textures.table.bin", textures.TableBytes()); err != nil {
			return failedReport(j.req, "gltf.write_failed", err)
		}
		if err := writer.WriteFile(content.FileKindTexturesData, "textures/textures.data.bin", textures.DataBytes()); err != nil {
			return failedReport(j.req, "gltf.write_failed", err)
		}
		report.TexturesWritten = textures.Count() - 1
	}
	if buffers.Count() > 1 {
		if err := writer.WriteFile(content.FileKindBuffersTable, "buffers/buffers.table.bin", buffers.TableBytes()); err != nil {
			return failedReport(j.req, "gltf.write_failed", err)
		}
		if err := writer.WriteFile(content.FileKindBuffersData, "buffers/buffers.data.bin", buffers.DataBytes()); err != nil {
			return failedReport(j.req, "gltf.write_failed", err)
		}
		report.BuffersWritten = buffers.Count() - 1
	}

	fin, err := writer.Finish()
	if err != nil {
		return failedReport(j.req, "gltf.finish_failed", err)
	}
	report.SourceKey = fin.SourceKey
	report.Success = !report.HasErrors()
	return report
}

type gltfImageWork struct {
	path    string
	index   int
	raw     []byte
	options TextureOptions
}

func (w gltfImageWork) SourcePath() string { return w.path }

type gltfImageResult struct {
	index   int
	payload texturePayload
}

func decodeImageStage(ctx context.Context, work gltfImageWork) (gltfImageResult, []Diagnostic, error) {
	payload, diags, err := decodeTextureStage(ctx, textureInput{path: work.path, raw: work.raw, options: work.options})
	return gltfImageResult{index: work.index, payload: payload}, diags, err
}

// cookImages decodes every referenced image through the texture stage
// and emits the payloads, returning image index to table row. Results
// carry their image index so worker reordering cannot mismap rows.
func (j *GLTFJob) cookImages(ctx context.Context, env *JobEnv, doc *gltfDocument, binaries [][]byte, textures *TextureEmitter, report *ImportReport) map[int]uint32 {
	texOpts := TextureOptions{}
	if j.req.Scene.TextureDefaults != nil {
		texOpts = *j.req.Scene.TextureDefaults
	}

	// Resolve bytes up front so missing images surface before any
	// decode work is dispatched.
	pending := make([]gltfImageWork, 0, len(doc.Images))
	for i, img := range doc.Images {
		raw, err := imageBytes(doc, img, binaries, filepath.Dir(j.req.SourcePath))
		if err != nil {
			report.Diagnostics = append(report.Diagnostics, Diagnostic{
				Severity:   SeverityWarning,
				Code:       "gltf.missing_image",
				Message:    err.Error(),
				SourcePath: j.req.SourcePath,
				ObjectPath: fmt.Sprintf("/images/%d", i),
			})
			continue
		}
		pending = append(pending, gltfImageWork{path: j.req.SourcePath, index: i, raw: raw, options: texOpts})
	}

	pipe := NewPipeline("texture", env.Options.PipelineWorkers, env.Options.PipelineCapacity, env.Pool, decodeImageStage)
	pipe.Start(ctx)
	go func() {
		for _, work := range pending {
			pipe.Submit(work)
		}
		pipe.Close()
	}()

	rows := make(map[int]uint32, len(pending))
	for {
		result, ok := pipe.Collect()
		if !ok {
			break
		}
		if result.Success {
			payload := result.Value.payload
			row, _ := textures.Emit(payload.blob, pak.TextureResourceDesc{
				TextureType: uint8(metadata.TextureType2D),
				Format:      uint8(payload.format),
				Width:       payload.width,
				Height:      payload.height,
				Depth:       1,
				ArraySize:   1,
				MipCount:    payload.mipCount,
			})
			rows[result.Value.index] = row
		}
		report.Diagnostics = append(report.Diagnostics, result.Diagnostics...)
	}
	env.progress("texture", pipe.GetProgress())
	return rows
}

func (j *GLTFJob) materialVirtualPath(name string) string {
	return virtualPathFor(j.req, requestName(j.req)+"/"+name, ".omat")
}

func (j *GLTFJob) writeMaterial(writer *content.LooseCookedWriter, doc *gltfDocument, index int, mat gltfMaterial, imageRows map[int]uint32) ([16]byte, error) {
	name := mat.Name
	if name == "" {
		name = fmt.Sprintf("material_%d", index)
	}

	desc := pak.MaterialAssetDesc{
		Header: pak.AssetHeader{
			AssetType: pak.AssetTypeMaterial,
			Name:      name,
			Version:   1,
		},
		ShaderStages:     shaderStageVertex | shaderStageFragment,
		BaseColor:        [4]float32{1, 1, 1, 1},
		NormalScale:      1,
		Metalness:        1,
		Roughness:        1,
		AmbientOcclusion: 1,
		ShaderRefs: []pak.ShaderReferenceDesc{
			{Stage: shaderStageVertex, ShaderUniqueID: "oxygen.pbr.vertex"},
			{Stage: shaderStageFragment, ShaderUniqueID: "oxygen.pbr.fragment"},
		},
	}
	if pbr := mat.PBR; pbr != nil {
		for i, v := range pbr.BaseColorFactor {
			if i < 4 {
				desc.BaseColor[i] = float32(v)
			}
		}
		if pbr.MetallicFactor != nil {
			desc.Metalness = float32(*pbr.MetallicFactor)
		}
		if pbr.RoughnessFactor != nil {
			desc.Roughness = float32(*pbr.RoughnessFactor)
		}
		desc.BaseColorTexture = textureRow(doc, pbr.BaseColorTexture, imageRows)
		desc.MetallicRoughnessTexture = textureRow(doc, pbr.MetallicRoughnessTexture, imageRows)
	}
	if mat.NormalTexture != nil {
		desc.NormalTexture = textureRow(doc, &gltfTextureRef{Index: mat.NormalTexture.Index}, imageRows)
		if mat.NormalTexture.Scale != 0 {
			desc.NormalScale = float32(mat.NormalTexture.Scale)
		}
	}
	desc.OcclusionTexture = textureRow(doc, mat.OcclusionTexture, imageRows)
	desc.EmissiveTexture = textureRow(doc, mat.EmissiveTexture, imageRows)

	encoded, err := pak.EncodeMaterial(&desc)
	if err != nil {
		return [16]byte{}, err
	}
	desc.Header.ContentHash = contentHash64(encoded)
	encoded, err = pak.EncodeMaterial(&desc)
	if err != nil {
		return [16]byte{}, err
	}

	vpath := j.materialVirtualPath(name)
	key := core.AssetKeyFromPath(vpath)
	relPath := fmt.Sprintf("materials/%s.omat", name)
	if err := writer.WriteAssetDescriptor(key, pak.AssetTypeMaterial, vpath, relPath, encoded); err != nil {
		return [16]byte{}, err
	}
	return key, nil
}

func textureRow(doc *gltfDocument, ref *gltfTextureRef, imageRows map[int]uint32) uint32 {
	if ref == nil || ref.Index < 0 || ref.Index >= len(doc.Textures) {
		return 0
	}
	source := doc.Textures[ref.Index].Source
	if source == nil {
		return 0
	}
	return imageRows[*source]
}

func extractMeshStage(ctx context.Context, work gltfMeshWork) (gltfMeshResult, []Diagnostic, error) {
	mesh := work.mesh
	name := mesh.Name
	if name == "" {
		name = fmt.Sprintf("mesh_%d", work.meshIndex)
	}

	var vertexBlob, indexBlob bytes.Buffer
	var diags []Diagnostic
	result := gltfMeshResult{
		meshIndex: work.meshIndex,
		boundsMin: [3]float32{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32},
		boundsMax: [3]float32{-math.MaxFloat32, -math.MaxFloat32, -math.MaxFloat32},
	}
	lod := pak.MeshDesc{Name: name}

	for pi, prim := range mesh.Primitives {
		if ctx.Err() != nil {
			return result, diags, fmt.Errorf("%w: mesh extraction interrupted", core.ErrCanceled)
		}
		objectPath := fmt.Sprintf("/meshes/%d/primitives/%d", work.meshIndex, pi)

		posIndex, ok := prim.Attributes["POSITION"]
		if !ok {
			diags = append(diags, Diagnostic{
				Severity: SeverityWarning, Code: "gltf.missing_position",
				Message: "primitive has no POSITION attribute, skipped",
				SourcePath: work.path, ObjectPath: objectPath,
			})
			continue
		}
		positions, err := readVec3Accessor(work.doc, work.binaries, posIndex)
		if err != nil {
			return result, diags, fmt.Errorf("%s: %w", objectPath, err)
		}
		normals, _ := readVec3AccessorOpt(work.doc, work.binaries, prim.Attributes, "NORMAL", len(positions))
		uvs, _ := readVec2AccessorOpt(work.doc, work.binaries, prim.Attributes, "TEXCOORD_0", len(positions))

		indices, err := readIndices(work.doc, work.binaries, prim.Indices, len(positions))
		if err != nil {
			return result, diags, fmt.Errorf("%s: %w", objectPath, err)
		}

		firstVertex := lod.VertexCount
		firstIndex := lod.IndexCount
		var smMin, smMax [3]float32
		smMin = [3]float32{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32}
		smMax = [3]float32{-math.MaxFloat32, -math.MaxFloat32, -math.MaxFloat32}

		// Interleaved vertex layout: position, normal, uv. 32 bytes.
		for vi, pos := range positions {
			writeF32(&vertexBlob, pos[0], pos[1], pos[2])
			writeF32(&vertexBlob, normals[vi][0], normals[vi][1], normals[vi][2])
			writeF32(&vertexBlob, uvs[vi][0], uvs[vi][1])
			for a := 0; a < 3; a++ {
				if pos[a] < smMin[a] {
					smMin[a] = pos[a]
				}
				if pos[a] > smMax[a] {
					smMax[a] = pos[a]
				}
			}
		}
		for _, idx := range indices {
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], idx+firstVertex)
			indexBlob.Write(b[:])
		}

		materialKey := [16]byte{}
		if prim.Material != nil {
			// Resolved against the cooked material keys by the collector.
			binary.LittleEndian.PutUint32(materialKey[:4], uint32(*prim.Material)+1)
		}
		lod.SubMeshes = append(lod.SubMeshes, pak.SubMeshDesc{
			Name:          fmt.Sprintf("%s_%d", name, pi),
			MaterialKey:   materialKey,
			MeshViewCount: 1,
			BoundsMin:     smMin,
			BoundsMax:     smMax,
			MeshViews: []pak.MeshViewDesc{{
				FirstIndex:  firstIndex,
				IndexCount:  uint32(len(indices)),
				FirstVertex: firstVertex,
				VertexCount: uint32(len(positions)),
			}},
		})
		lod.VertexCount += uint32(len(positions))
		lod.IndexCount += uint32(len(indices))
		for a := 0; a < 3; a++ {
			if smMin[a] < result.boundsMin[a] {
				result.boundsMin[a] = smMin[a]
			}
			if smMax[a] > result.boundsMax[a] {
				result.boundsMax[a] = smMax[a]
			}
		}
	}
	if len(lod.SubMeshes) == 0 {
		return result, diags, fmt.Errorf("mesh %q has no usable primitives", name)
	}
	lod.SubMeshCount = uint32(len(lod.SubMeshes))
	lod.BoundingSphere = boundingSphere(result.boundsMin, result.boundsMax)
	result.lod = lod
	result.vertexBlob = vertexBlob.Bytes()
	result.indexBlob = indexBlob.Bytes()
	return result, diags, nil
}

// writeGeometry emits the mesh blobs into the buffer table and writes
// the geometry descriptor. Material placeholders left by the extraction
// stage are swapped for the cooked material keys.
func (j *GLTFJob) writeGeometry(writer *content.LooseCookedWriter, sceneName string, result gltfMeshResult, materialKeys map[int][16]byte, buffers *BufferEmitter) ([16]byte, error) {
	vertexRow, _ := buffers.Emit(result.vertexBlob, pak.BufferResourceDesc{
		UsageFlags:    uint32(metadata.BufferUsageVertex),
		ElementStride: 32,
	})
	indexRow, _ := buffers.Emit(result.indexBlob, pak.BufferResourceDesc{
		UsageFlags:    uint32(metadata.BufferUsageIndex),
		ElementStride: 4,
	})

	lod := result.lod
	lod.VertexBuffer = vertexRow
	lod.IndexBuffer = indexRow
	for si := range lod.SubMeshes {
		lod.SubMeshes[si].MaterialKey = resolveMaterialKey(lod.SubMeshes[si].MaterialKey, materialKeys)
	}

	desc := pak.GeometryAssetDesc{
		Header: pak.AssetHeader{
			AssetType: pak.AssetTypeGeometry,
			Name:      lod.Name,
			Version:   1,
		},
		LodCount:  1,
		BoundsMin: result.boundsMin,
		BoundsMax: result.boundsMax,
		Lods:      []pak.MeshDesc{lod},
	}
	encoded, err := pak.EncodeGeometry(&desc)
	if err != nil {
		return [16]byte{}, err
	}
	desc.Header.ContentHash = contentHash64(encoded)
	encoded, err = pak.EncodeGeometry(&desc)
	if err != nil {
		return [16]byte{}, err
	}

	vpath := virtualPathFor(j.req, sceneName+"/"+lod.Name, ".ogeo")
	key := core.AssetKeyFromPath(vpath)
	relPath := fmt.Sprintf("geometry/%s.ogeo", lod.Name)
	if err := writer.WriteAssetDescriptor(key, pak.AssetTypeGeometry, vpath, relPath, encoded); err != nil {
		return [16]byte{}, err
	}
	return key, nil
}

// resolveMaterialKey turns the stage's index placeholder into the
// cooked material's asset key; unknown indices fall back to zero.
func resolveMaterialKey(placeholder [16]byte, materialKeys map[int][16]byte) [16]byte {
	marker := binary.LittleEndian.Uint32(placeholder[:4])
	if marker == 0 {
		return [16]byte{}
	}
	if key, ok := materialKeys[int(marker-1)]; ok {
		return key
	}
	return [16]byte{}
}

func (j *GLTFJob) writeScene(writer *content.LooseCookedWriter, name string, doc *gltfDocument, geometryKeys map[int][16]byte) error {
	desc := pak.SceneAssetDesc{
		Header: pak.AssetHeader{
			AssetType: pak.AssetTypeScene,
			Name:      name,
			Version:   1,
		},
		Environment: pak.SceneEnvironment{
			AmbientColor:     [3]float32{1, 1, 1},
			AmbientIntensity: 1,
		},
	}

	parents := make([]uint32, len(doc.Nodes))
	for i := range parents {
		parents[i] = pak.RootNodeIndex
	}
	for i, node := range doc.Nodes {
		for _, child := range node.Children {
			if child >= 0 && child < len(parents) {
				parents[child] = uint32(i)
			}
		}
	}

	for i, node := range doc.Nodes {
		record := pak.NodeRecord{
			Name:        node.Name,
			ParentIndex: parents[i],
			Rotation:    [4]float32{0, 0, 0, 1},
			Scale:       [3]float32{1, 1, 1},
		}
		if record.Name == "" {
			record.Name = fmt.Sprintf("node_%d", i)
		}
		if node.Translation != nil {
			for a := 0; a < 3; a++ {
				record.Translation[a] = float32(node.Translation[a])
			}
		}
		if node.Rotation != nil {
			for a := 0; a < 4; a++ {
				record.Rotation[a] = float32(node.Rotation[a])
			}
		}
		if node.Scale != nil {
			for a := 0; a < 3; a++ {
				record.Scale[a] = float32(node.Scale[a])
			}
		}
		desc.Nodes = append(desc.Nodes, record)

		if node.Mesh != nil {
			if key, ok := geometryKeys[*node.Mesh]; ok {
				desc.Renderables = append(desc.Renderables, pak.RenderableRecord{
					NodeIndex:   uint32(i),
					GeometryKey: key,
					Visible:     true,
					CastShadows: true,
				})
			}
		}
	}

	encoded, err := pak.EncodeScene(&desc)
	if err != nil {
		return err
	}
	desc.Header.ContentHash = contentHash64(encoded)
	encoded, err = pak.EncodeScene(&desc)
	if err != nil {
		return err
	}

	vpath := virtualPathFor(j.req, name, ".oscene")
	key := core.AssetKeyFromPath(vpath)
	return writer.WriteAssetDescriptor(key, pak.AssetTypeScene, vpath, fmt.Sprintf("scenes/%s.oscene", name), encoded)
}

// splitGLB returns the JSON document and the embedded binary chunk.
// Plain .gltf text passes through with a nil binary.
func splitGLB(raw []byte) ([]byte, []byte, error) {
	if len(raw) < 12 || string(raw[0:4]) != "glTF" {
		return raw, nil, nil
	}
	version := binary.LittleEndian.Uint32(raw[4:8])
	if version != 2 {
		return nil, nil, fmt.Errorf("%w: unsupported glb version %d", core.ErrValidation, version)
	}
	total := binary.LittleEndian.Uint32(raw[8:12])
	if int(total) > len(raw) {
		return nil, nil, fmt.Errorf("%w: glb length %d exceeds file size %d", core.ErrValidation, total, len(raw))
	}

	var jsonChunk, binChunk []byte
	offset := 12
	for offset+8 <= int(total) {
		chunkLen := int(binary.LittleEndian.Uint32(raw[offset : offset+4]))
		chunkType := binary.LittleEndian.Uint32(raw[offset+4 : offset+8])
		offset += 8
		if offset+chunkLen > int(total) {
			return nil, nil, fmt.Errorf("%w: glb chunk overruns file", core.ErrValidation)
		}
		chunk := raw[offset : offset+chunkLen]
		switch chunkType {
		case 0x4E4F534A: // "JSON"
			jsonChunk = chunk
		case 0x004E4942: // "BIN"
			binChunk = chunk
		}
		offset += chunkLen
	}
	if jsonChunk == nil {
		return nil, nil, fmt.Errorf("%w: glb has no JSON chunk", core.ErrValidation)
	}
	return jsonChunk, binChunk, nil
}

// resolveBuffers loads every buffer: the glb binary chunk, base64 data
// URIs, or files next to the document. Missing buffers leave a nil
// slot and a diagnostic; accessors touching them fail later.
func resolveBuffers(doc *gltfDocument, sourcePath string, glbBin []byte) ([][]byte, []Diagnostic) {
	var diags []Diagnostic
	binaries := make([][]byte, len(doc.Buffers))
	baseDir := filepath.Dir(sourcePath)
	for i, buf := range doc.Buffers {
		switch {
		case buf.URI == "":
			binaries[i] = glbBin
		case strings.HasPrefix(buf.URI, "data:"):
			comma := strings.IndexByte(buf.URI, ',')
			if comma < 0 {
				diags = append(diags, Diagnostic{
					Severity: SeverityError, Code: "gltf.missing_buffer",
					Message: fmt.Sprintf("buffer %d has a malformed data URI", i), SourcePath: sourcePath,
					ObjectPath: fmt.Sprintf("/buffers/%d", i),
				})
				continue
			}
			decoded, err := base64.StdEncoding.DecodeString(buf.URI[comma+1:])
			if err != nil {
				diags = append(diags, Diagnostic{
					Severity: SeverityError, Code: "gltf.missing_buffer",
					Message: fmt.Sprintf("buffer %d: %v", i, err), SourcePath: sourcePath,
					ObjectPath: fmt.Sprintf("/buffers/%d", i),
				})
				continue
			}
			binaries[i] = decoded
		default:
			data, err := os.ReadFile(filepath.Join(baseDir, filepath.FromSlash(buf.URI)))
			if err != nil {
				diags = append(diags, Diagnostic{
					Severity: SeverityError, Code: "gltf.missing_buffer",
					Message: err.Error(), SourcePath: sourcePath,
					ObjectPath: fmt.Sprintf("/buffers/%d", i),
				})
				continue
			}
			binaries[i] = data
		}
	}
	return binaries, diags
}

func imageBytes(doc *gltfDocument, img gltfImage, binaries [][]byte, baseDir string) ([]byte, error) {
	if img.BufferView != nil {
		return viewBytes(doc, binaries, *img.BufferView)
	}
	if img.URI == "" {
		return nil, fmt.Errorf("image has neither uri nor bufferView")
	}
	if strings.HasPrefix(img.URI, "data:") {
		comma := strings.IndexByte(img.URI, ',')
		if comma < 0 {
			return nil, fmt.Errorf("malformed data URI")
		}
		return base64.StdEncoding.DecodeString(img.URI[comma+1:])
	}
	return os.ReadFile(filepath.Join(baseDir, filepath.FromSlash(img.URI)))
}

func viewBytes(doc *gltfDocument, binaries [][]byte, viewIndex int) ([]byte, error) {
	if viewIndex < 0 || viewIndex >= len(doc.BufferViews) {
		return nil, fmt.Errorf("buffer view %d out of range", viewIndex)
	}
	view := doc.BufferViews[viewIndex]
	if view.Buffer < 0 || view.Buffer >= len(binaries) || binaries[view.Buffer] == nil {
		return nil, fmt.Errorf("buffer %d unavailable", view.Buffer)
	}
	data := binaries[view.Buffer]
	end := view.ByteOffset + view.ByteLength
	if view.ByteOffset < 0 || end > len(data) {
		return nil, fmt.Errorf("buffer view %d out of bounds", viewIndex)
	}
	return data[view.ByteOffset:end], nil
}

func accessorData(doc *gltfDocument, binaries [][]byte, index int) (gltfAccessor, []byte, int, error) {
	if index < 0 || index >= len(doc.Accessors) {
		return gltfAccessor{}, nil, 0, fmt.Errorf("accessor %d out of range", index)
	}
	acc := doc.Accessors[index]
	if acc.BufferView == nil {
		return gltfAccessor{}, nil, 0, fmt.Errorf("accessor %d has no buffer view", index)
	}
	data, err := viewBytes(doc, binaries, *acc.BufferView)
	if err != nil {
		return gltfAccessor{}, nil, 0, err
	}
	stride := doc.BufferViews[*acc.BufferView].ByteStride
	return acc, data, stride, nil
}

func readVec3Accessor(doc *gltfDocument, binaries [][]byte, index int) ([][3]float32, error) {
	acc, data, stride, err := accessorData(doc, binaries, index)
	if err != nil {
		return nil, err
	}
	if acc.ComponentType != gltfComponentFloat32 || acc.Type != "VEC3" {
		return nil, fmt.Errorf("accessor %d is not a float VEC3", index)
	}
	if stride == 0 {
		stride = 12
	}
	out := make([][3]float32, acc.Count)
	for i := 0; i < acc.Count; i++ {
		base := acc.ByteOffset + i*stride
		if base+12 > len(data) {
			return nil, fmt.Errorf("accessor %d overruns its view", index)
		}
		for a := 0; a < 3; a++ {
			out[i][a] = math.Float32frombits(binary.LittleEndian.Uint32(data[base+a*4:]))
		}
	}
	return out, nil
}

func readVec3AccessorOpt(doc *gltfDocument, binaries [][]byte, attrs map[string]int, key string, count int) ([][3]float32, error) {
	if index, ok := attrs[key]; ok {
		if vals, err := readVec3Accessor(doc, binaries, index); err == nil && len(vals) == count {
			return vals, nil
		}
	}
	return make([][3]float32, count), nil
}

func readVec2AccessorOpt(doc *gltfDocument, binaries [][]byte, attrs map[string]int, key string, count int) ([][2]float32, error) {
	index, ok := attrs[key]
	if !ok {
		return make([][2]float32, count), nil
	}
	acc, data, stride, err := accessorData(doc, binaries, index)
	if err != nil || acc.ComponentType != gltfComponentFloat32 || acc.Type != "VEC2" {
		return make([][2]float32, count), nil
	}
	if stride == 0 {
		stride = 8
	}
	if acc.Count != count {
		return make([][2]float32, count), nil
	}
	out := make([][2]float32, acc.Count)
	for i := 0; i < acc.Count; i++ {
		base := acc.ByteOffset + i*stride
		if base+8 > len(data) {
			return make([][2]float32, count), nil
		}
		out[i][0] = math.Float32frombits(binary.LittleEndian.Uint32(data[base:]))
		out[i][1] = math.Float32frombits(binary.LittleEndian.Uint32(data[base+4:]))
	}
	return out, nil
}

// readIndices returns the primitive's indices, synthesizing a trivial
// 0..n-1 list for non-indexed geometry.
func readIndices(doc *gltfDocument, binaries [][]byte, index *int, vertexCount int) ([]uint32, error) {
	if index == nil {
		out := make([]uint32, vertexCount)
		for i := range out {
			out[i] = uint32(i)
		}
		return out, nil
	}
	acc, data, stride, err := accessorData(doc, binaries, *index)
	if err != nil {
		return nil, err
	}
	if acc.Type != "SCALAR" {
		return nil, fmt.Errorf("index accessor %d is not scalar", *index)
	}
	out := make([]uint32, acc.Count)
	switch acc.ComponentType {
	case gltfComponentUint16:
		if stride == 0 {
			stride = 2
		}
		for i := 0; i < acc.Count; i++ {
			base := acc.ByteOffset + i*stride
			if base+2 > len(data) {
				return nil, fmt.Errorf("index accessor %d overruns its view", *index)
			}
			out[i] = uint32(binary.LittleEndian.Uint16(data[base:]))
		}
	case gltfComponentUint32:
		if stride == 0 {
			stride = 4
		}
		for i := 0; i < acc.Count; i++ {
			base := acc.ByteOffset + i*stride
			if base+4 > len(data) {
				return nil, fmt.Errorf("index accessor %d overruns its view", *index)
			}
			out[i] = binary.LittleEndian.Uint32(data[base:])
		}
	default:
		return nil, fmt.Errorf("index accessor %d has unsupported component type %d", *index, acc.ComponentType)
	}
	return out, nil
}

func writeF32(buf *bytes.Buffer, values ...float32) {
	var b [4]byte
	for _, v := range values {
		binary.LittleEndian.PutUint32(b[:], math.Float32bits(v))
		buf.Write(b[:])
	}
}

func boundingSphere(min, max [3]float32) [4]float32 {
	var center [3]float32
	var radius float64
	for a := 0; a < 3; a++ {
		center[a] = (min[a] + max[a]) / 2
		half := float64(max[a]-min[a]) / 2
		radius += half * half
	}
	return [4]float32{center[0], center[1], center[2], float32(math.Sqrt(radius))}
}
