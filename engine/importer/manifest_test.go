package importer

import (
	"errors"
	"strings"
	"testing"

	"github.com/spaghettifunk/oxygen/engine/core"
)

const validManifest = `{
	// cooked asset manifest
	"version": 1,
	"thread_pool_size": 4,
	"defaults": {
		"texture": { "color_space": "srgb", "mip_policy": "full" },
		"scene": { "bake_transforms": true }
	},
	"jobs": [
		{ "type": "texture", "source": "textures/albedo.png", "mip_filter": "box" },
		{ "type": "gltf", "source": "models/helmet.gltf", "name": "helmet" },
		{ "type": "fbx", "source": "models/rock.fbx", "output": "/tmp/cooked" }
	]
}`

func TestParseManifestValid(t *testing.T) {
	m, errs, err := ParseManifest([]byte(validManifest))
	if err != nil {
		t.Fatalf("ParseManifest: %v (%v)", err, errs)
	}
	if len(m.Jobs) != 3 {
		t.Fatalf("got %d jobs, want 3", len(m.Jobs))
	}
	if m.ThreadPoolSize != 4 {
		t.Fatalf("thread_pool_size = %d", m.ThreadPoolSize)
	}

	tex := m.Jobs[0]
	if tex.Name != "albedo" {
		t.Fatalf("texture name defaulted to %q, want source stem", tex.Name)
	}
	// Defaults merge under the explicit per-job keys.
	if tex.Texture.ColorSpace != "srgb" || tex.Texture.MipPolicy != "full" {
		t.Fatalf("texture defaults not inherited: %+v", tex.Texture)
	}
	if tex.Texture.MipFilter != "box" {
		t.Fatalf("per-job override lost: %+v", tex.Texture)
	}

	if m.Jobs[1].Name != "helmet" {
		t.Fatalf("explicit name lost: %q", m.Jobs[1].Name)
	}
	if !m.Jobs[2].Scene.BakeTransforms {
		t.Fatalf("scene defaults not inherited: %+v", m.Jobs[2].Scene)
	}
}

func TestParseManifestCollectsAllErrors(t *testing.T) {
	src := `{
		"versoin": 1,
		"jobs": [
			{ "type": "texture" },
			{ "type": "warp", "source": "x.bin" },
			{ "type": "gltf", "source": "a.gltf", "mip_policy": "full" }
		]
	}`
	m, errs, err := ParseManifest([]byte(src))
	if m != nil {
		t.Fatal("invalid manifest still produced jobs")
	}
	if !errors.Is(err, core.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}

	want := []string{
		"/versoin",
		"/version",
		"/jobs/0/source",
		"/jobs/1/type",
		"/jobs/2/mip_policy",
	}
	for _, pointer := range want {
		found := false
		for _, e := range errs {
			if e.Pointer == pointer {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("no error at %s in %v", pointer, errs)
		}
	}
}

func TestParseManifestRejectsWrongVersion(t *testing.T) {
	_, errs, err := ParseManifest([]byte(`{"version": 2, "jobs": []}`))
	if err == nil {
		t.Fatal("version 2 accepted")
	}
	found := false
	for _, e := range errs {
		if e.Pointer == "/version" && strings.Contains(e.Message, "unsupported") {
			found = true
		}
	}
	if !found {
		t.Fatalf("no version error in %v", errs)
	}
}

func TestParseManifestNotAnObject(t *testing.T) {
	if _, _, err := ParseManifest([]byte(`[1, 2]`)); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestManifestRequests(t *testing.T) {
	m, _, err := ParseManifest([]byte(validManifest))
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	reqs := m.Requests("/cooked")
	if len(reqs) != 3 {
		t.Fatalf("got %d requests", len(reqs))
	}
	if reqs[0].CookedRoot != "/cooked" || reqs[0].OutputPrefix != "/Textures" {
		t.Fatalf("texture request = %+v", reqs[0])
	}
	if reqs[1].OutputPrefix != "/Scenes" {
		t.Fatalf("gltf request prefix = %q", reqs[1].OutputPrefix)
	}
	// Per-job output overrides the manifest-level root.
	if reqs[2].CookedRoot != "/tmp/cooked" {
		t.Fatalf("fbx request root = %q", reqs[2].CookedRoot)
	}
}
