package importer

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spaghettifunk/oxygen/engine/core"
)

/**
 * @brief One per-format import job. Run owns the whole source-to-cooked
 * path for its request and must honor ctx cooperatively; it never
 * panics through to the service.
 */
type Job interface {
	Run(ctx context.Context, env *JobEnv) ImportReport
}

/** @brief Builds a job for a request; the factory decides the format. */
type JobFactory func(req ImportRequest) (Job, error)

/** @brief What the service hands every running job. */
type JobEnv struct {
	Pool    *WorkerPool
	Options ServiceOptions
	/** @brief Reports stage counters; nil when the caller opted out. */
	OnProgress func(stage string, p PipelineProgress)
}

func (env *JobEnv) progress(stage string, p PipelineProgress) {
	if env.OnProgress != nil {
		env.OnProgress(stage, p)
	}
}

var textureExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".bmp": {}, ".tif": {}, ".tiff": {},
}

// FactoryForSource resolves the builtin factory for a source path by
// extension. The second return is false for unknown formats.
func FactoryForSource(sourcePath string) (JobFactory, bool) {
	ext := strings.ToLower(filepath.Ext(sourcePath))
	if _, ok := textureExtensions[ext]; ok {
		return NewTextureJob, true
	}
	switch ext {
	case ".gltf", ".glb":
		return NewGLTFJob, true
	case ".fbx":
		return NewFBXJob, true
	}
	return nil, false
}

func validateRequest(req ImportRequest) error {
	if req.SourcePath == "" {
		return fmt.Errorf("%w: empty source path", core.ErrInvalidRequest)
	}
	if req.CookedRoot == "" {
		return fmt.Errorf("%w: empty cooked root", core.ErrInvalidRequest)
	}
	return nil
}

func requestName(req ImportRequest) string {
	if req.Name != "" {
		return req.Name
	}
	base := filepath.Base(req.SourcePath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func virtualPathFor(req ImportRequest, name, ext string) string {
	prefix := req.OutputPrefix
	if prefix == "" {
		prefix = "/Assets"
	}
	return prefix + "/" + name + ext
}

// failedReport builds a terminal report carrying one error diagnostic.
func failedReport(req ImportRequest, code string, err error) ImportReport {
	return ImportReport{
		CookedRoot: req.CookedRoot,
		Diagnostics: []Diagnostic{{
			Severity:   SeverityError,
			Code:       code,
			Message:    err.Error(),
			SourcePath: req.SourcePath,
		}},
	}
}

// canceledReport is the terminal report for a canceled job: one
// import.canceled diagnostic, success false.
func canceledReport(req ImportRequest) ImportReport {
	return ImportReport{
		CookedRoot:  req.CookedRoot,
		Diagnostics: []Diagnostic{CanceledDiagnostic(req.SourcePath)},
	}
}
