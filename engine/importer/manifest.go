package importer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/spaghettifunk/oxygen/engine/core"
)

// ManifestVersion is the only schema version this build understands.
const ManifestVersion = 1

/** @brief One job entry of a parsed manifest. */
type ManifestJob struct {
	Type           string         `json:"type"`
	Source         string         `json:"source"`
	Name           string         `json:"name,omitempty"`
	Output         string         `json:"output,omitempty"`
	Verbose        bool           `json:"verbose,omitempty"`
	ContentHashing bool           `json:"content_hashing,omitempty"`
	Texture        TextureOptions `json:"-"`
	Scene          SceneOptions   `json:"-"`
}

/** @brief A validated import manifest. */
type Manifest struct {
	Version         int            `json:"version"`
	ThreadPoolSize  int            `json:"thread_pool_size,omitempty"`
	MaxInFlightJobs int            `json:"max_in_flight_jobs,omitempty"`
	Concurrency     int            `json:"concurrency,omitempty"`
	Jobs            []ManifestJob  `json:"-"`
	DefaultTexture  TextureOptions `json:"-"`
	DefaultScene    SceneOptions   `json:"-"`
}

/** @brief One schema violation, located by a JSON pointer path. */
type ManifestError struct {
	Pointer string
	Message string
}

func (e ManifestError) Error() string {
	return fmt.Sprintf("%s: %s", e.Pointer, e.Message)
}

var manifestTopLevelKeys = keySet("version", "thread_pool_size", "max_in_flight_jobs", "concurrency", "defaults", "jobs")
var manifestDefaultsKeys = keySet("texture", "scene")
var jobCommonKeys = keySet("type", "source", "name", "output", "verbose", "content_hashing")
var textureOptionKeys = keySet(
	"sources", "preset", "intent", "color_space", "output_format", "data_format",
	"mip_policy", "mip_filter", "mip_filter_space", "bc7_quality", "packing_policy",
	"cube_layout", "hdr_handling", "exposure_ev", "max_mips", "cube_face_size",
	"flip_y", "force_rgba", "flip_normal_green", "renormalize", "bake_hdr",
	"cubemap", "equirect_to_cube",
)
var sceneOptionKeys = keySet(
	"content_hashing", "content_flags", "unit_policy", "unit_scale", "bake_transforms",
	"normals_policy", "tangents_policy", "node_pruning", "naming_policy",
	"texture_defaults", "texture_overrides",
)

func keySet(keys ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		m[k] = struct{}{}
	}
	return m
}

// LoadManifest reads and validates a JSONC manifest file.
func LoadManifest(path string) (*Manifest, []ManifestError, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}
	return ParseManifest(raw)
}

// ParseManifest validates the whole document before building anything:
// every schema violation is collected with its JSON pointer path, and a
// manifest with any violation yields no jobs.
func ParseManifest(raw []byte) (*Manifest, []ManifestError, error) {
	plain := jsonc.ToJSON(raw)

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(plain, &doc); err != nil {
		return nil, nil, fmt.Errorf("%w: manifest is not a JSON object: %v", core.ErrValidation, err)
	}

	var errs []ManifestError
	addErr := func(pointer, format string, args ...any) {
		errs = append(errs, ManifestError{Pointer: pointer, Message: fmt.Sprintf(format, args...)})
	}

	for key := range doc {
		if _, ok := manifestTopLevelKeys[key]; !ok {
			addErr("/"+key, "unrecognized key")
		}
	}

	m := &Manifest{}
	if rawVersion, ok := doc["version"]; ok {
		if err := json.Unmarshal(rawVersion, &m.Version); err != nil {
			addErr("/version", "must be a number")
		} else if m.Version != ManifestVersion {
			addErr("/version", "unsupported version %d, expected %d", m.Version, ManifestVersion)
		}
	} else {
		addErr("/version", "required")
	}
	for _, field := range []struct {
		key string
		dst *int
	}{
		{"thread_pool_size", &m.ThreadPoolSize},
		{"max_in_flight_jobs", &m.MaxInFlightJobs},
		{"concurrency", &m.Concurrency},
	} {
		rawField, ok := doc[field.key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(rawField, field.dst); err != nil || *field.dst < 0 {
			addErr("/"+field.key, "must be a non-negative number")
		}
	}

	if rawDefaults, ok := doc["defaults"]; ok {
		var defaults map[string]json.RawMessage
		if err := json.Unmarshal(rawDefaults, &defaults); err != nil {
			addErr("/defaults", "must be an object")
		} else {
			for key := range defaults {
				if _, ok := manifestDefaultsKeys[key]; !ok {
					addErr("/defaults/"+key, "unrecognized key")
				}
			}
			if rawTex, ok := defaults["texture"]; ok {
				validateKeys(rawTex, "/defaults/texture", textureOptionKeys, addErr)
				if err := json.Unmarshal(rawTex, &m.DefaultTexture); err != nil {
					addErr("/defaults/texture", "malformed: %v", err)
				}
			}
			if rawScene, ok := defaults["scene"]; ok {
				validateKeys(rawScene, "/defaults/scene", sceneOptionKeys, addErr)
				if err := json.Unmarshal(rawScene, &m.DefaultScene); err != nil {
					addErr("/defaults/scene", "malformed: %v", err)
				}
			}
		}
	}

	rawJobs, ok := doc["jobs"]
	if !ok {
		addErr("/jobs", "required")
	} else {
		var jobs []json.RawMessage
		if err := json.Unmarshal(rawJobs, &jobs); err != nil {
			addErr("/jobs", "must be an array")
		} else {
			for i, rawJob := range jobs {
				job, jobErrs := parseManifestJob(rawJob, fmt.Sprintf("/jobs/%d", i), m)
				errs = append(errs, jobErrs...)
				if len(jobErrs) == 0 {
					m.Jobs = append(m.Jobs, job)
				}
			}
		}
	}

	if len(errs) > 0 {
		return nil, errs, fmt.Errorf("%w: manifest has %d schema violations", core.ErrValidation, len(errs))
	}
	return m, nil, nil
}

func parseManifestJob(raw json.RawMessage, pointer string, m *Manifest) (ManifestJob, []ManifestError) {
	var errs []ManifestError
	addErr := func(ptr, format string, args ...any) {
		errs = append(errs, ManifestError{Pointer: ptr, Message: fmt.Sprintf(format, args...)})
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		addErr(pointer, "must be an object")
		return ManifestJob{}, errs
	}

	var job ManifestJob
	if err := json.Unmarshal(raw, &job); err != nil {
		addErr(pointer, "malformed: %v", err)
		return ManifestJob{}, errs
	}

	var optionKeys map[string]struct{}
	switch job.Type {
	case "texture":
		optionKeys = textureOptionKeys
		job.Texture = m.DefaultTexture
		if err := json.Unmarshal(raw, &job.Texture); err != nil {
			addErr(pointer, "malformed texture options: %v", err)
		}
	case "fbx", "gltf":
		optionKeys = sceneOptionKeys
		job.Scene = m.DefaultScene
		if err := json.Unmarshal(raw, &job.Scene); err != nil {
			addErr(pointer, "malformed scene options: %v", err)
		}
	case "":
		addErr(pointer+"/type", "required")
	default:
		addErr(pointer+"/type", "unknown job type %q", job.Type)
	}

	for key := range fields {
		if _, ok := jobCommonKeys[key]; ok {
			continue
		}
		if optionKeys != nil {
			if _, ok := optionKeys[key]; ok {
				continue
			}
		}
		addErr(pointer+"/"+key, "unrecognized key")
	}

	if job.Source == "" {
		addErr(pointer+"/source", "required")
	}
	if job.Name == "" && job.Source != "" {
		base := filepath.Base(job.Source)
		job.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return job, errs
}

func validateKeys(raw json.RawMessage, pointer string, allowed map[string]struct{}, addErr func(string, string, ...any)) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		addErr(pointer, "must be an object")
		return
	}
	for key := range fields {
		if _, ok := allowed[key]; !ok {
			addErr(pointer+"/"+key, "unrecognized key")
		}
	}
}

// Requests expands the manifest into one import request per job,
// rooted under cookedRoot.
func (m *Manifest) Requests(cookedRoot string) []ImportRequest {
	reqs := make([]ImportRequest, 0, len(m.Jobs))
	for _, job := range m.Jobs {
		output := job.Output
		if output == "" {
			output = cookedRoot
		}
		prefix := "/Textures"
		if job.Type != "texture" {
			prefix = "/Scenes"
		}
		reqs = append(reqs, ImportRequest{
			SourcePath:     job.Source,
			CookedRoot:     output,
			Name:           job.Name,
			OutputPrefix:   prefix,
			ContentHashing: job.ContentHashing || job.Scene.ContentHashing,
			Verbose:        job.Verbose,
			Texture:        job.Texture,
			Scene:          job.Scene,
		})
	}
	return reqs
}
