package importer

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/spaghettifunk/oxygen/engine/content"
	"github.com/spaghettifunk/oxygen/engine/core"
	"github.com/spaghettifunk/oxygen/engine/pak"
	"github.com/spaghettifunk/oxygen/engine/renderer/metadata"
)

// fbxMagic opens every binary FBX file; text FBX is not supported.
const fbxMagic = "Kaydara FBX Binary  \x00"

// Record offsets widen from u32 to u64 at this format version.
const fbxWideOffsetsVersion = 7500

type fbxNode struct {
	name     string
	props    []any
	children []*fbxNode
}

func (n *fbxNode) child(name string) *fbxNode {
	for _, c := range n.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

func (n *fbxNode) int64Prop(i int) (int64, bool) {
	if i >= len(n.props) {
		return 0, false
	}
	switch v := n.props[i].(type) {
	case int64:
		return v, true
	case int32:
		return int64(v), true
	case int16:
		return int64(v), true
	}
	return 0, false
}

func (n *fbxNode) stringProp(i int) (string, bool) {
	if i >= len(n.props) {
		return "", false
	}
	s, ok := n.props[i].(string)
	return s, ok
}

func (n *fbxNode) float64Array(name string) []float64 {
	c := n.child(name)
	if c == nil || len(c.props) == 0 {
		return nil
	}
	switch v := c.props[0].(type) {
	case []float64:
		return v
	case []float32:
		out := make([]float64, len(v))
		for i, f := range v {
			out[i] = float64(f)
		}
		return out
	}
	return nil
}

func (n *fbxNode) int32Array(name string) []int32 {
	c := n.child(name)
	if c == nil || len(c.props) == 0 {
		return nil
	}
	switch v := c.props[0].(type) {
	case []int32:
		return v
	case []int64:
		out := make([]int32, len(v))
		for i, x := range v {
			out[i] = int32(x)
		}
		return out
	}
	return nil
}

// parseFBX reads the binary node tree. The 27-byte header carries the
// magic and the format version; record field widths depend on it.
func parseFBX(raw []byte) (*fbxNode, uint32, error) {
	if len(raw) < 27 || string(raw[:len(fbxMagic)]) != fbxMagic {
		return nil, 0, fmt.Errorf("%w: not a binary fbx file", core.ErrValidation)
	}
	version := binary.LittleEndian.Uint32(raw[23:27])

	root := &fbxNode{name: ""}
	offset := 27
	for {
		node, next, err := parseFBXRecord(raw, offset, version)
		if err != nil {
			return nil, version, err
		}
		if node == nil {
			break
		}
		root.children = append(root.children, node)
		offset = next
		if offset >= len(raw) {
			break
		}
	}
	return root, version, nil
}

// parseFBXRecord parses one node record at offset. A nil node with no
// error is the NULL terminator record.
func parseFBXRecord(raw []byte, offset int, version uint32) (*fbxNode, int, error) {
	wide := version >= fbxWideOffsetsVersion
	fieldSize := 4
	if wide {
		fieldSize = 8
	}
	headerSize := fieldSize*3 + 1
	if offset+headerSize > len(raw) {
		return nil, 0, fmt.Errorf("%w: truncated fbx record header", core.ErrValidation)
	}

	readField := func(at int) uint64 {
		if wide {
			return binary.LittleEndian.Uint64(raw[at:])
		}
		return uint64(binary.LittleEndian.Uint32(raw[at:]))
	}
	endOffset := readField(offset)
	numProps := readField(offset + fieldSize)
	propListLen := readField(offset + fieldSize*2)
	nameLen := int(raw[offset+fieldSize*3])

	if endOffset == 0 && numProps == 0 && propListLen == 0 && nameLen == 0 {
		return nil, offset + headerSize, nil
	}
	if endOffset > uint64(len(raw)) {
		return nil, 0, fmt.Errorf("%w: fbx record overruns file", core.ErrValidation)
	}
	// The end offset must clear the record header or the node loops
	// would spin on the same offset forever.
	if endOffset <= uint64(offset+headerSize) {
		return nil, 0, fmt.Errorf("%w: fbx record end offset does not advance", core.ErrValidation)
	}

	cursor := offset + headerSize
	if cursor+nameLen > len(raw) {
		return nil, 0, fmt.Errorf("%w: truncated fbx record name", core.ErrValidation)
	}
	node := &fbxNode{name: string(raw[cursor : cursor+nameLen])}
	cursor += nameLen

	propEnd := cursor + int(propListLen)
	if propEnd > len(raw) {
		return nil, 0, fmt.Errorf("%w: truncated fbx property list", core.ErrValidation)
	}
	for i := uint64(0); i < numProps; i++ {
		value, next, err := parseFBXProperty(raw, cursor)
		if err != nil {
			return nil, 0, err
		}
		node.props = append(node.props, value)
		cursor = next
	}
	cursor = propEnd

	// Nested records run until the end offset; a NULL record terminates
	// the list when children exist.
	for cursor < int(endOffset) {
		child, next, err := parseFBXRecord(raw, cursor, version)
		if err != nil {
			return nil, 0, err
		}
		cursor = next
		if child == nil {
			break
		}
		node.children = append(node.children, child)
	}
	return node, int(endOffset), nil
}

func parseFBXProperty(raw []byte, offset int) (any, int, error) {
	if offset >= len(raw) {
		return nil, 0, fmt.Errorf("%w: truncated fbx property", core.ErrValidation)
	}
	typeCode := raw[offset]
	offset++
	need := func(n int) error {
		if offset+n > len(raw) {
			return fmt.Errorf("%w: truncated fbx property payload", core.ErrValidation)
		}
		return nil
	}
	switch typeCode {
	case 'Y':
		if err := need(2); err != nil {
			return nil, 0, err
		}
		return int16(binary.LittleEndian.Uint16(raw[offset:])), offset + 2, nil
	case 'C':
		if err := need(1); err != nil {
			return nil, 0, err
		}
		return raw[offset]&1 == 1, offset + 1, nil
	case 'I':
		if err := need(4); err != nil {
			return nil, 0, err
		}
		return int32(binary.LittleEndian.Uint32(raw[offset:])), offset + 4, nil
	case 'L':
		if err := need(8); err != nil {
			return nil, 0, err
		}
		return int64(binary.LittleEndian.Uint64(raw[offset:])), offset + 8, nil
	case 'F':
		if err := need(4); err != nil {
			return nil, 0, err
		}
		return math.Float32frombits(binary.LittleEndian.Uint32(raw[offset:])), offset + 4, nil
	case 'D':
		if err := need(8); err != nil {
			return nil, 0, err
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(raw[offset:])), offset + 8, nil
	case 'S', 'R':
		if err := need(4); err != nil {
			return nil, 0, err
		}
		n := int(binary.LittleEndian.Uint32(raw[offset:]))
		offset += 4
		if err := need(n); err != nil {
			return nil, 0, err
		}
		data := raw[offset : offset+n]
		if typeCode == 'S' {
			return string(data), offset + n, nil
		}
		return append([]byte(nil), data...), offset + n, nil
	case 'f', 'd', 'l', 'i', 'b':
		return parseFBXArray(raw, offset, typeCode)
	default:
		return nil, 0, fmt.Errorf("%w: unknown fbx property type %q", core.ErrValidation, typeCode)
	}
}

func parseFBXArray(raw []byte, offset int, typeCode byte) (any, int, error) {
	if offset+12 > len(raw) {
		return nil, 0, fmt.Errorf("%w: truncated fbx array header", core.ErrValidation)
	}
	count := int(binary.LittleEndian.Uint32(raw[offset:]))
	encoding := binary.LittleEndian.Uint32(raw[offset+4:])
	byteLen := int(binary.LittleEndian.Uint32(raw[offset+8:]))
	offset += 12
	if offset+byteLen > len(raw) {
		return nil, 0, fmt.Errorf("%w: truncated fbx array payload", core.ErrValidation)
	}
	payload := raw[offset : offset+byteLen]
	next := offset + byteLen

	elemSize := map[byte]int{'f': 4, 'd': 8, 'l': 8, 'i': 4, 'b': 1}[typeCode]
	if encoding == 1 {
		zr, err := zlib.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, 0, fmt.Errorf("%w: fbx array inflate: %v", core.ErrValidation, err)
		}
		inflated := make([]byte, count*elemSize)
		if _, err := io.ReadFull(zr, inflated); err != nil {
			zr.Close()
			return nil, 0, fmt.Errorf("%w: fbx array inflate: %v", core.ErrValidation, err)
		}
		zr.Close()
		payload = inflated
	} else if len(payload) < count*elemSize {
		return nil, 0, fmt.Errorf("%w: fbx array shorter than its count", core.ErrValidation)
	}

	switch typeCode {
	case 'f':
		out := make([]float32, count)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[i*4:]))
		}
		return out, next, nil
	case 'd':
		out := make([]float64, count)
		for i := range out {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(payload[i*8:]))
		}
		return out, next, nil
	case 'l':
		out := make([]int64, count)
		for i := range out {
			out[i] = int64(binary.LittleEndian.Uint64(payload[i*8:]))
		}
		return out, next, nil
	case 'i':
		out := make([]int32, count)
		for i := range out {
			out[i] = int32(binary.LittleEndian.Uint32(payload[i*4:]))
		}
		return out, next, nil
	default: // 'b'
		out := make([]bool, count)
		for i := range out {
			out[i] = payload[i]&1 == 1
		}
		return out, next, nil
	}
}

// fbxObjectName splits the "Name\x00\x01Class" convention.
func fbxObjectName(raw string) string {
	if i := strings.Index(raw, "\x00\x01"); i >= 0 {
		return raw[:i]
	}
	return raw
}

type fbxGeometry struct {
	id   int64
	name string
	node *fbxNode
}

type fbxModel struct {
	id          int64
	name        string
	translation [3]float32
	rotation    [4]float32
	scale       [3]float32
}

type fbxMaterial struct {
	id      int64
	name    string
	diffuse [3]float32
	hasDiff bool
}

type fbxConnection struct {
	child  int64
	parent int64
}

type fbxScene struct {
	geometries  map[int64]*fbxGeometry
	models      map[int64]*fbxModel
	materials   map[int64]*fbxMaterial
	modelOrder  []int64
	geomOrder   []int64
	matOrder    []int64
	connections []fbxConnection
}

func collectFBXScene(root *fbxNode) *fbxScene {
	scene := &fbxScene{
		geometries: make(map[int64]*fbxGeometry),
		models:     make(map[int64]*fbxModel),
		materials:  make(map[int64]*fbxMaterial),
	}
	objects := root.child("Objects")
	if objects != nil {
		for _, obj := range objects.children {
			id, _ := obj.int64Prop(0)
			rawName, _ := obj.stringProp(1)
			name := fbxObjectName(rawName)
			switch obj.name {
			case "Geometry":
				scene.geometries[id] = &fbxGeometry{id: id, name: name, node: obj}
				scene.geomOrder = append(scene.geomOrder, id)
			case "Model":
				model := &fbxModel{
					id: id, name: name,
					rotation: [4]float32{0, 0, 0, 1},
					scale:    [3]float32{1, 1, 1},
				}
				readFBXModelTransform(obj, model)
				scene.models[id] = model
				scene.modelOrder = append(scene.modelOrder, id)
			case "Material":
				mat := &fbxMaterial{id: id, name: name, diffuse: [3]float32{1, 1, 1}}
				readFBXMaterialColor(obj, mat)
				scene.materials[id] = mat
				scene.matOrder = append(scene.matOrder, id)
			}
		}
	}
	if conns := root.child("Connections"); conns != nil {
		for _, c := range conns.children {
			if c.name != "C" {
				continue
			}
			child, ok1 := c.int64Prop(1)
			parent, ok2 := c.int64Prop(2)
			if ok1 && ok2 {
				scene.connections = append(scene.connections, fbxConnection{child: child, parent: parent})
			}
		}
	}
	return scene
}

func readFBXModelTransform(obj *fbxNode, model *fbxModel) {
	props := obj.child("Properties70")
	if props == nil {
		return
	}
	for _, p := range props.children {
		if p.name != "P" {
			continue
		}
		key, _ := p.stringProp(0)
		x, y, z, ok := fbxVec3Prop(p)
		if !ok {
			continue
		}
		switch key {
		case "Lcl Translation":
			model.translation = [3]float32{float32(x), float32(y), float32(z)}
		case "Lcl Rotation":
			model.rotation = eulerDegreesToQuat(x, y, z)
		case "Lcl Scaling":
			model.scale = [3]float32{float32(x), float32(y), float32(z)}
		}
	}
}

func readFBXMaterialColor(obj *fbxNode, mat *fbxMaterial) {
	props := obj.child("Properties70")
	if props == nil {
		return
	}
	for _, p := range props.children {
		if p.name != "P" {
			continue
		}
		key, _ := p.stringProp(0)
		if key != "DiffuseColor" && key != "Diffuse" {
			continue
		}
		x, y, z, ok := fbxVec3Prop(p)
		if ok {
			mat.diffuse = [3]float32{float32(x), float32(y), float32(z)}
			mat.hasDiff = true
		}
	}
}

// fbxVec3Prop reads the three trailing doubles of a Properties70 "P"
// record, which carries [name, type, label, flags, x, y, z].
func fbxVec3Prop(p *fbxNode) (x, y, z float64, ok bool) {
	if len(p.props) < 7 {
		return 0, 0, 0, false
	}
	vals := make([]float64, 0, 3)
	for _, raw := range p.props[4:7] {
		switch v := raw.(type) {
		case float64:
			vals = append(vals, v)
		case float32:
			vals = append(vals, float64(v))
		default:
			return 0, 0, 0, false
		}
	}
	return vals[0], vals[1], vals[2], true
}

// eulerDegreesToQuat composes an XYZ-order rotation quaternion from the
// FBX Lcl Rotation degrees.
func eulerDegreesToQuat(xDeg, yDeg, zDeg float64) [4]float32 {
	hx := xDeg * math.Pi / 360
	hy := yDeg * math.Pi / 360
	hz := zDeg * math.Pi / 360
	sx, cx := math.Sin(hx), math.Cos(hx)
	sy, cy := math.Sin(hy), math.Cos(hy)
	sz, cz := math.Sin(hz), math.Cos(hz)
	return [4]float32{
		float32(sx*cy*cz + cx*sy*sz),
		float32(cx*sy*cz - sx*cy*sz),
		float32(cx*cy*sz + sx*sy*cz),
		float32(cx*cy*cz - sx*sy*sz),
	}
}

/**
 * @brief Imports a binary FBX document into cooked materials, geometry,
 * one scene asset, and the buffer resource table feeding the meshes.
 */
type FBXJob struct {
	req ImportRequest
}

func NewFBXJob(req ImportRequest) (Job, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	return &FBXJob{req: req}, nil
}

type fbxMeshWork struct {
	path string
	geom *fbxGeometry
}

func (w fbxMeshWork) SourcePath() string { return w.path }

type fbxMeshResult struct {
	geomID     int64
	vertexBlob []byte
	indexBlob  []byte
	lod        pak.MeshDesc
	boundsMin  [3]float32
	boundsMax  [3]float32
}

func (j *FBXJob) Run(ctx context.Context, env *JobEnv) ImportReport {
	name := requestName(j.req)
	flags := j.req.Scene.Flags()

	raw, err := os.ReadFile(j.req.SourcePath)
	if err != nil {
		return failedReport(j.req, "fbx.read_failed", err)
	}
	root, _, err := parseFBX(raw)
	if err != nil {
		return failedReport(j.req, "fbx.parse_failed", err)
	}
	scene := collectFBXScene(root)

	writer, err := content.NewLooseCookedWriter(j.req.CookedRoot)
	if err != nil {
		return failedReport(j.req, "fbx.writer_failed", err)
	}
	writer.SetComputeSha256(j.req.ContentHashing)

	report := ImportReport{CookedRoot: j.req.CookedRoot}
	buffers := NewBufferEmitter()

	materialKeys := make(map[int64][16]byte, len(scene.materials))
	if flags.Materials {
		for _, id := range scene.matOrder {
			mat := scene.materials[id]
			key, err := j.writeMaterial(writer, mat)
			if err != nil {
				report.Diagnostics = append(report.Diagnostics, Diagnostic{
					Severity:   SeverityError,
					Code:       "fbx.material_failed",
					Message:    err.Error(),
					SourcePath: j.req.SourcePath,
					ObjectPath: "/materials/" + mat.name,
				})
				continue
			}
			materialKeys[id] = key
			report.MaterialsWritten++
		}
	}

	// Geometry to model and material to model edges, for renderable
	// placement and submesh material keys.
	geomModel := make(map[int64]int64)
	modelMaterial := make(map[int64]int64)
	for _, conn := range scene.connections {
		if _, ok := scene.geometries[conn.child]; ok {
			if _, ok := scene.models[conn.parent]; ok {
				geomModel[conn.child] = conn.parent
			}
		}
		if _, ok := scene.materials[conn.child]; ok {
			if _, ok := scene.models[conn.parent]; ok {
				modelMaterial[conn.parent] = conn.child
			}
		}
	}

	geometryKeys := make(map[int64][16]byte, len(scene.geometries))
	if flags.Geometry && len(scene.geomOrder) > 0 {
		pipe := NewPipeline("geometry", env.Options.PipelineWorkers, env.Options.PipelineCapacity, env.Pool, extractFBXMeshStage)
		pipe.Start(ctx)
		go func() {
			for _, id := range scene.geomOrder {
				pipe.Submit(fbxMeshWork{path: j.req.SourcePath, geom: scene.geometries[id]})
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
			matKey := [16]byte{}
			if modelID, ok := geomModel[result.Value.geomID]; ok {
				if matID, ok := modelMaterial[modelID]; ok {
					matKey = materialKeys[matID]
				}
			}
			key, err := j.writeGeometry(writer, name, result.Value, matKey, buffers)
			if err != nil {
				report.Diagnostics = append(report.Diagnostics, Diagnostic{
					Severity:   SeverityError,
					Code:       "fbx.geometry_failed",
					Message:    err.Error(),
					SourcePath: j.req.SourcePath,
				})
				continue
			}
			geometryKeys[result.Value.geomID] = key
			report.GeometryWritten++
		}
		env.progress("geometry", pipe.GetProgress())
	}
	if ctx.Err() != nil {
		return canceledReport(j.req)
	}

	if flags.Scene {
		if err := j.writeScene(writer, name, scene, geomModel, geometryKeys); err != nil {
			report.Diagnostics = append(report.Diagnostics, Diagnostic{
				Severity: SeverityError, Code: "fbx.scene_failed",
				Message: err.Error(), SourcePath: j.req.SourcePath,
			})
		} else {
			report.ScenesWritten++
		}
	}

	if buffers.Count() > 1 {
		if err := writer.WriteFile(content.FileKindBuffersTable, "buffers/buffers.table.bin", buffers.TableBytes()); err != nil {
			return failedReport(j.req, "fbx.write_failed", err)
		}
		if err := writer.WriteFile(content.FileKindBuffersData, "buffers/buffers.data.bin", buffers.DataBytes()); err != nil {
			return failedReport(j.req, "fbx.write_failed", err)
		}
		report.BuffersWritten = buffers.Count() - 1
	}

	fin, err := writer.Finish()
	if err != nil {
		return failedReport(j.req, "fbx.finish_failed", err)
	}
	report.SourceKey = fin.SourceKey
	report.Success = !report.HasErrors()
	return report
}

func (j *FBXJob) writeMaterial(writer *content.LooseCookedWriter, mat *fbxMaterial) ([16]byte, error) {
	name := mat.name
	if name == "" {
		name = fmt.Sprintf("material_%d", mat.id)
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
		Metalness:        0,
		Roughness:        1,
		AmbientOcclusion: 1,
		ShaderRefs: []pak.ShaderReferenceDesc{
			{Stage: shaderStageVertex, ShaderUniqueID: "oxygen.pbr.vertex"},
			{Stage: shaderStageFragment, ShaderUniqueID: "oxygen.pbr.fragment"},
		},
	}
	if mat.hasDiff {
		desc.BaseColor = [4]float32{mat.diffuse[0], mat.diffuse[1], mat.diffuse[2], 1}
	}

	encoded, err := pak.EncodeMaterial(&desc)
	if err != nil {
		return [16]byte{}, err
	}
	desc.Header.ContentHash = contentHash64(encoded)
	encoded, err = pak.EncodeMaterial(&desc)
	if err != nil {
		return [16]byte{}, err
	}

	vpath := virtualPathFor(j.req, requestName(j.req)+"/"+name, ".omat")
	key := core.AssetKeyFromPath(vpath)
	if err := writer.WriteAssetDescriptor(key, pak.AssetTypeMaterial, vpath, fmt.Sprintf("materials/%s.omat", name), encoded); err != nil {
		return [16]byte{}, err
	}
	return key, nil
}

// extractFBXMeshStage de-indexes the polygon soup into an interleaved
// triangle list. Normals and UVs are taken per polygon vertex when the
// layer lengths line up, zero otherwise.
func extractFBXMeshStage(ctx context.Context, work fbxMeshWork) (fbxMeshResult, []Diagnostic, error) {
	geom := work.geom
	name := geom.name
	if name == "" {
		name = fmt.Sprintf("geometry_%d", geom.id)
	}
	result := fbxMeshResult{geomID: geom.id}

	vertices := geom.node.float64Array("Vertices")
	polyIndex := geom.node.int32Array("PolygonVertexIndex")
	if len(vertices) == 0 || len(polyIndex) == 0 {
		return result, nil, fmt.Errorf("geometry %q has no polygon data", name)
	}

	var normals []float64
	if layer := geom.node.child("LayerElementNormal"); layer != nil {
		normals = layer.float64Array("Normals")
	}
	var uvs []float64
	var uvIndex []int32
	if layer := geom.node.child("LayerElementUV"); layer != nil {
		uvs = layer.float64Array("UV")
		uvIndex = layer.int32Array("UVIndex")
	}
	perVertexNormals := len(normals) == len(polyIndex)*3

	uvAt := func(polyVert int) (float32, float32) {
		idx := polyVert
		if len(uvIndex) == len(polyIndex) {
			idx = int(uvIndex[polyVert])
		}
		if idx < 0 || (idx+1)*2 > len(uvs) {
			return 0, 0
		}
		return float32(uvs[idx*2]), float32(uvs[idx*2+1])
	}

	var vertexBlob, indexBlob bytes.Buffer
	boundsMin := [3]float32{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32}
	boundsMax := [3]float32{-math.MaxFloat32, -math.MaxFloat32, -math.MaxFloat32}
	var emitted uint32

	emit := func(polyVert int) error {
		raw := polyIndex[polyVert]
		idx := int(raw)
		if idx < 0 {
			idx = ^idx
		}
		if (idx+1)*3 > len(vertices) {
			return fmt.Errorf("geometry %q: vertex index %d out of range", name, idx)
		}
		pos := [3]float32{
			float32(vertices[idx*3]),
			float32(vertices[idx*3+1]),
			float32(vertices[idx*3+2]),
		}
		var normal [3]float32
		if perVertexNormals {
			normal = [3]float32{
				float32(normals[polyVert*3]),
				float32(normals[polyVert*3+1]),
				float32(normals[polyVert*3+2]),
			}
		}
		u, v := uvAt(polyVert)
		writeF32(&vertexBlob, pos[0], pos[1], pos[2])
		writeF32(&vertexBlob, normal[0], normal[1], normal[2])
		writeF32(&vertexBlob, u, v)
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], emitted)
		indexBlob.Write(b[:])
		emitted++
		for a := 0; a < 3; a++ {
			if pos[a] < boundsMin[a] {
				boundsMin[a] = pos[a]
			}
			if pos[a] > boundsMax[a] {
				boundsMax[a] = pos[a]
			}
		}
		return nil
	}

	// Negative raw index terminates a polygon; fan-triangulate each one.
	polyStart := 0
	for i, raw := range polyIndex {
		if ctx.Err() != nil {
			return result, nil, fmt.Errorf("%w: mesh extraction interrupted", core.ErrCanceled)
		}
		if raw >= 0 {
			continue
		}
		for tri := polyStart + 1; tri < i; tri++ {
			if err := emit(polyStart); err != nil {
				return result, nil, err
			}
			if err := emit(tri); err != nil {
				return result, nil, err
			}
			if err := emit(tri + 1); err != nil {
				return result, nil, err
			}
		}
		polyStart = i + 1
	}
	if emitted == 0 {
		return result, nil, fmt.Errorf("geometry %q produced no triangles", name)
	}

	result.boundsMin = boundsMin
	result.boundsMax = boundsMax
	result.vertexBlob = vertexBlob.Bytes()
	result.indexBlob = indexBlob.Bytes()
	result.lod = pak.MeshDesc{
		Name:           name,
		SubMeshCount:   1,
		VertexCount:    emitted,
		IndexCount:     emitted,
		BoundingSphere: boundingSphere(boundsMin, boundsMax),
		SubMeshes: []pak.SubMeshDesc{{
			Name:          name,
			MeshViewCount: 1,
			BoundsMin:     boundsMin,
			BoundsMax:     boundsMax,
			MeshViews: []pak.MeshViewDesc{{
				FirstIndex:  0,
				IndexCount:  emitted,
				FirstVertex: 0,
				VertexCount: emitted,
			}},
		}},
	}
	return result, nil, nil
}

func (j *FBXJob) writeGeometry(writer *content.LooseCookedWriter, sceneName string, result fbxMeshResult, materialKey [16]byte, buffers *BufferEmitter) ([16]byte, error) {
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
		lod.SubMeshes[si].MaterialKey = materialKey
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
	if err := writer.WriteAssetDescriptor(key, pak.AssetTypeGeometry, vpath, fmt.Sprintf("geometry/%s.ogeo", lod.Name), encoded); err != nil {
		return [16]byte{}, err
	}
	return key, nil
}

func (j *FBXJob) writeScene(writer *content.LooseCookedWriter, name string, scene *fbxScene, geomModel map[int64]int64, geometryKeys map[int64][16]byte) error {
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

	// FBX models all parent to the scene root here; parent-child model
	// connections would refine this but flat placement is lossless for
	// baked transforms.
	nodeIndex := make(map[int64]uint32, len(scene.modelOrder))
	for _, id := range scene.modelOrder {
		model := scene.models[id]
		record := pak.NodeRecord{
			Name:        model.name,
			ParentIndex: pak.RootNodeIndex,
			Translation: model.translation,
			Rotation:    model.rotation,
			Scale:       model.scale,
		}
		if record.Name == "" {
			record.Name = fmt.Sprintf("node_%d", id)
		}
		nodeIndex[id] = uint32(len(desc.Nodes))
		desc.Nodes = append(desc.Nodes, record)
	}

	// Renderables are recorded in node order.
	modelGeom := make(map[int64]int64, len(geomModel))
	for geomID, modelID := range geomModel {
		modelGeom[modelID] = geomID
	}
	for _, modelID := range scene.modelOrder {
		geomID, ok := modelGeom[modelID]
		if !ok {
			continue
		}
		key, ok := geometryKeys[geomID]
		if !ok {
			continue
		}
		desc.Renderables = append(desc.Renderables, pak.RenderableRecord{
			NodeIndex:   nodeIndex[modelID],
			GeometryKey: key,
			Visible:     true,
			CastShadows: true,
		})
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
