package importer

/** @brief One source image feeding a texture import. */
type TextureSourceRef struct {
	File  string `json:"file"`
	Layer int    `json:"layer"`
	Mip   int    `json:"mip"`
	Slice int    `json:"slice"`
}

/**
 * @brief Texture cooking options. Zero values mean "let the preset
 * decide"; the manifest defaults block fills them before job overrides
 * apply.
 */
type TextureOptions struct {
	Sources         []TextureSourceRef `json:"sources,omitempty"`
	Preset          string             `json:"preset,omitempty"`
	Intent          string             `json:"intent,omitempty"`
	ColorSpace      string             `json:"color_space,omitempty"`
	OutputFormat    string             `json:"output_format,omitempty"`
	DataFormat      string             `json:"data_format,omitempty"`
	MipPolicy       string             `json:"mip_policy,omitempty"`
	MipFilter       string             `json:"mip_filter,omitempty"`
	MipFilterSpace  string             `json:"mip_filter_space,omitempty"`
	BC7Quality      string             `json:"bc7_quality,omitempty"`
	PackingPolicy   string             `json:"packing_policy,omitempty"`
	CubeLayout      string             `json:"cube_layout,omitempty"`
	HDRHandling     string             `json:"hdr_handling,omitempty"`
	ExposureEV      float64            `json:"exposure_ev,omitempty"`
	MaxMips         int                `json:"max_mips,omitempty"`
	CubeFaceSize    int                `json:"cube_face_size,omitempty"`
	FlipY           bool               `json:"flip_y,omitempty"`
	ForceRGBA       bool               `json:"force_rgba,omitempty"`
	FlipNormalGreen bool               `json:"flip_normal_green,omitempty"`
	Renormalize     bool               `json:"renormalize,omitempty"`
	BakeHDR         bool               `json:"bake_hdr,omitempty"`
	Cubemap         bool               `json:"cubemap,omitempty"`
	EquirectToCube  bool               `json:"equirect_to_cube,omitempty"`
}

/** @brief Which content classes a scene import writes. */
type ContentFlags struct {
	Textures  bool `json:"textures"`
	Materials bool `json:"materials"`
	Geometry  bool `json:"geometry"`
	Scene     bool `json:"scene"`
}

// DefaultContentFlags enables every class.
func DefaultContentFlags() ContentFlags {
	return ContentFlags{Textures: true, Materials: true, Geometry: true, Scene: true}
}

/** @brief Scene (FBX, glTF) cooking options. */
type SceneOptions struct {
	ContentHashing   bool                      `json:"content_hashing,omitempty"`
	ContentFlags     *ContentFlags             `json:"content_flags,omitempty"`
	UnitPolicy       string                    `json:"unit_policy,omitempty"`
	UnitScale        float64                   `json:"unit_scale,omitempty"`
	BakeTransforms   bool                      `json:"bake_transforms,omitempty"`
	NormalsPolicy    string                    `json:"normals_policy,omitempty"`
	TangentsPolicy   string                    `json:"tangents_policy,omitempty"`
	NodePruning      string                    `json:"node_pruning,omitempty"`
	NamingPolicy     string                    `json:"naming_policy,omitempty"`
	TextureDefaults  *TextureOptions           `json:"texture_defaults,omitempty"`
	TextureOverrides map[string]TextureOptions `json:"texture_overrides,omitempty"`
}

// Flags resolves the content flags, defaulting to all-on.
func (o SceneOptions) Flags() ContentFlags {
	if o.ContentFlags == nil {
		return DefaultContentFlags()
	}
	return *o.ContentFlags
}
