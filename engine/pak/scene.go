package pak

import (
	"fmt"
	"sort"
)

// Scene component types. The on-disk order of the component table
// directory follows this enumeration.
type ComponentType uint8

const (
	ComponentTypeRenderable ComponentType = iota + 1
	ComponentTypePerspectiveCamera
	ComponentTypeOrthographicCamera
	ComponentTypeDirectionalLight
	ComponentTypePointLight
	ComponentTypeSpotLight
)

func (t ComponentType) String() string {
	switch t {
	case ComponentTypeRenderable:
		return "renderable"
	case ComponentTypePerspectiveCamera:
		return "perspective_camera"
	case ComponentTypeOrthographicCamera:
		return "orthographic_camera"
	case ComponentTypeDirectionalLight:
		return "directional_light"
	case ComponentTypePointLight:
		return "point_light"
	case ComponentTypeSpotLight:
		return "spot_light"
	default:
		return "unknown"
	}
}

// RootNodeIndex marks a node without a parent.
const RootNodeIndex = ^uint32(0)

/** @brief One scene-graph node. 112 bytes on disk. */
type NodeRecord struct {
	Name        string
	ParentIndex uint32
	Translation [3]float32
	Rotation    [4]float32
	Scale       [3]float32
	Flags       uint32
}

/** @brief Binds a geometry asset to a node. 24 bytes on disk. */
type RenderableRecord struct {
	NodeIndex   uint32
	GeometryKey [16]byte
	Visible     bool
	CastShadows bool
	// 2 bytes reserved on disk.
}

/** @brief 16 bytes on disk. */
type PerspectiveCameraRecord struct {
	NodeIndex uint32
	FovY      float32
	Near      float32
	Far       float32
}

/** @brief 20 bytes on disk. */
type OrthographicCameraRecord struct {
	NodeIndex uint32
	ExtentX   float32
	ExtentY   float32
	Near      float32
	Far       float32
}

/** @brief 20 bytes on disk. */
type DirectionalLightRecord struct {
	NodeIndex uint32
	Color     [3]float32
	Intensity float32
}

/** @brief 24 bytes on disk. */
type PointLightRecord struct {
	NodeIndex uint32
	Color     [3]float32
	Intensity float32
	Range     float32
}

/** @brief 32 bytes on disk. */
type SpotLightRecord struct {
	NodeIndex uint32
	Color     [3]float32
	Intensity float32
	Range     float32
	InnerCone float32
	OuterCone float32
}

/** @brief The scene environment block. 52 bytes on disk. */
type SceneEnvironment struct {
	/** @brief Texture table index of the skybox cubemap. 0 = fallback. */
	SkyboxTexture    uint32
	AmbientColor     [3]float32
	AmbientIntensity float32
	FogColor         [3]float32
	FogDensity       float32
	// 16 bytes reserved on disk.
}

/**
 * @brief A scene asset: header, node records, component tables sorted by
 * node index, and one environment block.
 */
type SceneAssetDesc struct {
	Header AssetHeader

	Nodes []NodeRecord

	Renderables         []RenderableRecord
	PerspectiveCameras  []PerspectiveCameraRecord
	OrthographicCameras []OrthographicCameraRecord
	DirectionalLights   []DirectionalLightRecord
	PointLights         []PointLightRecord
	SpotLights          []SpotLightRecord

	Environment SceneEnvironment
}

var sceneRecordSizes = map[ComponentType]int{
	ComponentTypeRenderable:         24,
	ComponentTypePerspectiveCamera:  16,
	ComponentTypeOrthographicCamera: 20,
	ComponentTypeDirectionalLight:   20,
	ComponentTypePointLight:         24,
	ComponentTypeSpotLight:          32,
}

func (d *SceneAssetDesc) componentCount(t ComponentType) int {
	switch t {
	case ComponentTypeRenderable:
		return len(d.Renderables)
	case ComponentTypePerspectiveCamera:
		return len(d.PerspectiveCameras)
	case ComponentTypeOrthographicCamera:
		return len(d.OrthographicCameras)
	case ComponentTypeDirectionalLight:
		return len(d.DirectionalLights)
	case ComponentTypePointLight:
		return len(d.PointLights)
	case ComponentTypeSpotLight:
		return len(d.SpotLights)
	}
	return 0
}

// TotalSize returns the on-disk size of the scene descriptor.
func (d *SceneAssetDesc) TotalSize() int {
	size := SceneDescFixedSize + len(d.Nodes)*SceneNodeRecordSize
	for t := ComponentTypeRenderable; t <= ComponentTypeSpotLight; t++ {
		if n := d.componentCount(t); n > 0 {
			size += SceneComponentTableSize + n*sceneRecordSizes[t]
		}
	}
	return size + SceneEnvironmentSize
}

// sortComponents orders every component table by referenced node index.
// Stable so records on the same node keep their authored order.
func (d *SceneAssetDesc) sortComponents() {
	sort.SliceStable(d.Renderables, func(i, j int) bool { return d.Renderables[i].NodeIndex < d.Renderables[j].NodeIndex })
	sort.SliceStable(d.PerspectiveCameras, func(i, j int) bool { return d.PerspectiveCameras[i].NodeIndex < d.PerspectiveCameras[j].NodeIndex })
	sort.SliceStable(d.OrthographicCameras, func(i, j int) bool { return d.OrthographicCameras[i].NodeIndex < d.OrthographicCameras[j].NodeIndex })
	sort.SliceStable(d.DirectionalLights, func(i, j int) bool { return d.DirectionalLights[i].NodeIndex < d.DirectionalLights[j].NodeIndex })
	sort.SliceStable(d.PointLights, func(i, j int) bool { return d.PointLights[i].NodeIndex < d.PointLights[j].NodeIndex })
	sort.SliceStable(d.SpotLights, func(i, j int) bool { return d.SpotLights[i].NodeIndex < d.SpotLights[j].NodeIndex })
}

func (d *SceneAssetDesc) validateNodeRefs() error {
	n := uint32(len(d.Nodes))
	check := func(table ComponentType, idx uint32) error {
		if idx >= n {
			return fmt.Errorf("scene %q: %s record references node %d of %d", d.Header.Name, table, idx, n)
		}
		return nil
	}
	for _, c := range d.Renderables {
		if err := check(ComponentTypeRenderable, c.NodeIndex); err != nil {
			return err
		}
	}
	for _, c := range d.PerspectiveCameras {
		if err := check(ComponentTypePerspectiveCamera, c.NodeIndex); err != nil {
			return err
		}
	}
	for _, c := range d.OrthographicCameras {
		if err := check(ComponentTypeOrthographicCamera, c.NodeIndex); err != nil {
			return err
		}
	}
	for _, c := range d.DirectionalLights {
		if err := check(ComponentTypeDirectionalLight, c.NodeIndex); err != nil {
			return err
		}
	}
	for _, c := range d.PointLights {
		if err := check(ComponentTypePointLight, c.NodeIndex); err != nil {
			return err
		}
	}
	for _, c := range d.SpotLights {
		if err := check(ComponentTypeSpotLight, c.NodeIndex); err != nil {
			return err
		}
	}
	return nil
}

// EncodeScene serializes a scene descriptor. Component tables are sorted
// by node index as part of encoding.
func EncodeScene(d *SceneAssetDesc) ([]byte, error) {
	if err := d.validateNodeRefs(); err != nil {
		return nil, err
	}
	d.sortComponents()

	tableCount := 0
	for t := ComponentTypeRenderable; t <= ComponentTypeSpotLight; t++ {
		if d.componentCount(t) > 0 {
			tableCount++
		}
	}

	w := newWriter(d.TotalSize())
	hdr := d.Header
	hdr.AssetType = AssetTypeScene
	hdr.encode(w)
	w.U32(uint32(len(d.Nodes)))
	w.U32(uint32(tableCount))

	for _, n := range d.Nodes {
		w.FixedString(n.Name, AssetNameMaxLength)
		w.U32(n.ParentIndex)
		for _, v := range n.Translation {
			w.F32(v)
		}
		for _, v := range n.Rotation {
			w.F32(v)
		}
		for _, v := range n.Scale {
			w.F32(v)
		}
		w.U32(n.Flags)
	}

	// Component table directory, then the records table by table.
	for t := ComponentTypeRenderable; t <= ComponentTypeSpotLight; t++ {
		n := d.componentCount(t)
		if n == 0 {
			continue
		}
		w.U8(uint8(t))
		w.Zero(3)
		w.U32(uint32(n))
		w.U32(uint32(sceneRecordSizes[t]))
	}
	for _, c := range d.Renderables {
		w.U32(c.NodeIndex)
		w.Raw(c.GeometryKey[:])
		w.U8(boolByte(c.Visible))
		w.U8(boolByte(c.CastShadows))
		w.Zero(2)
	}
	for _, c := range d.PerspectiveCameras {
		w.U32(c.NodeIndex)
		w.F32(c.FovY)
		w.F32(c.Near)
		w.F32(c.Far)
	}
	for _, c := range d.OrthographicCameras {
		w.U32(c.NodeIndex)
		w.F32(c.ExtentX)
		w.F32(c.ExtentY)
		w.F32(c.Near)
		w.F32(c.Far)
	}
	for _, c := range d.DirectionalLights {
		w.U32(c.NodeIndex)
		for _, v := range c.Color {
			w.F32(v)
		}
		w.F32(c.Intensity)
	}
	for _, c := range d.PointLights {
		w.U32(c.NodeIndex)
		for _, v := range c.Color {
			w.F32(v)
		}
		w.F32(c.Intensity)
		w.F32(c.Range)
	}
	for _, c := range d.SpotLights {
		w.U32(c.NodeIndex)
		for _, v := range c.Color {
			w.F32(v)
		}
		w.F32(c.Intensity)
		w.F32(c.Range)
		w.F32(c.InnerCone)
		w.F32(c.OuterCone)
	}

	w.U32(d.Environment.SkyboxTexture)
	for _, v := range d.Environment.AmbientColor {
		w.F32(v)
	}
	w.F32(d.Environment.AmbientIntensity)
	for _, v := range d.Environment.FogColor {
		w.F32(v)
	}
	w.F32(d.Environment.FogDensity)
	w.Zero(16)

	return w.Bytes(), nil
}

// DecodeScene parses a scene descriptor and checks the per-table sort
// invariant.
func DecodeScene(buf []byte) (*SceneAssetDesc, error) {
	if len(buf) < SceneDescFixedSize {
		return nil, fmt.Errorf("scene descriptor too small: %d bytes", len(buf))
	}
	r := newReader(buf)
	d := &SceneAssetDesc{}
	d.Header.decode(r)
	if d.Header.AssetType != AssetTypeScene {
		return nil, fmt.Errorf("descriptor header type %s, expected scene", d.Header.AssetType)
	}
	nodeCount := r.U32()
	tableCount := r.U32()

	d.Nodes = make([]NodeRecord, 0, nodeCount)
	for i := uint32(0); i < nodeCount; i++ {
		var n NodeRecord
		n.Name = r.FixedString(AssetNameMaxLength)
		n.ParentIndex = r.U32()
		for j := range n.Translation {
			n.Translation[j] = r.F32()
		}
		for j := range n.Rotation {
			n.Rotation[j] = r.F32()
		}
		for j := range n.Scale {
			n.Scale[j] = r.F32()
		}
		n.Flags = r.U32()
		d.Nodes = append(d.Nodes, n)
		if r.Err() != nil {
			return nil, r.Err()
		}
	}

	type tableEntry struct {
		componentType ComponentType
		count         uint32
		recordSize    uint32
	}
	tables := make([]tableEntry, 0, tableCount)
	for i := uint32(0); i < tableCount; i++ {
		var te tableEntry
		te.componentType = ComponentType(r.U8())
		r.Skip(3)
		te.count = r.U32()
		te.recordSize = r.U32()
		want, ok := sceneRecordSizes[te.componentType]
		if !ok {
			return nil, fmt.Errorf("scene descriptor: unknown component type %d", te.componentType)
		}
		if int(te.recordSize) != want {
			return nil, fmt.Errorf("scene descriptor: %s record size %d, expected %d", te.componentType, te.recordSize, want)
		}
		tables = append(tables, te)
	}

	for _, te := range tables {
		prev := uint32(0)
		for i := uint32(0); i < te.count; i++ {
			nodeIndex := r.U32()
			if nodeIndex >= nodeCount {
				return nil, fmt.Errorf("scene descriptor: %s record references node %d of %d", te.componentType, nodeIndex, nodeCount)
			}
			if i > 0 && nodeIndex < prev {
				return nil, fmt.Errorf("scene descriptor: %s records not sorted by node index", te.componentType)
			}
			prev = nodeIndex
			switch te.componentType {
			case ComponentTypeRenderable:
				var c RenderableRecord
				c.NodeIndex = nodeIndex
				copy(c.GeometryKey[:], r.Raw(16))
				c.Visible = r.U8() != 0
				c.CastShadows = r.U8() != 0
				r.Skip(2)
				d.Renderables = append(d.Renderables, c)
			case ComponentTypePerspectiveCamera:
				var c PerspectiveCameraRecord
				c.NodeIndex = nodeIndex
				c.FovY = r.F32()
				c.Near = r.F32()
				c.Far = r.F32()
				d.PerspectiveCameras = append(d.PerspectiveCameras, c)
			case ComponentTypeOrthographicCamera:
				var c OrthographicCameraRecord
				c.NodeIndex = nodeIndex
				c.ExtentX = r.F32()
				c.ExtentY = r.F32()
				c.Near = r.F32()
				c.Far = r.F32()
				d.OrthographicCameras = append(d.OrthographicCameras, c)
			case ComponentTypeDirectionalLight:
				var c DirectionalLightRecord
				c.NodeIndex = nodeIndex
				for j := range c.Color {
					c.Color[j] = r.F32()
				}
				c.Intensity = r.F32()
				d.DirectionalLights = append(d.DirectionalLights, c)
			case ComponentTypePointLight:
				var c PointLightRecord
				c.NodeIndex = nodeIndex
				for j := range c.Color {
					c.Color[j] = r.F32()
				}
				c.Intensity = r.F32()
				c.Range = r.F32()
				d.PointLights = append(d.PointLights, c)
			case ComponentTypeSpotLight:
				var c SpotLightRecord
				c.NodeIndex = nodeIndex
				for j := range c.Color {
					c.Color[j] = r.F32()
				}
				c.Intensity = r.F32()
				c.Range = r.F32()
				c.InnerCone = r.F32()
				c.OuterCone = r.F32()
				d.SpotLights = append(d.SpotLights, c)
			}
			if r.Err() != nil {
				return nil, r.Err()
			}
		}
	}

	d.Environment.SkyboxTexture = r.U32()
	for j := range d.Environment.AmbientColor {
		d.Environment.AmbientColor[j] = r.F32()
	}
	d.Environment.AmbientIntensity = r.F32()
	for j := range d.Environment.FogColor {
		d.Environment.FogColor[j] = r.F32()
	}
	d.Environment.FogDensity = r.F32()
	r.Skip(16)

	if r.Err() != nil {
		return nil, r.Err()
	}
	if r.off != len(buf) {
		return nil, fmt.Errorf("scene descriptor has %d trailing bytes", len(buf)-r.off)
	}
	return d, nil
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
