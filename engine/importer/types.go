package importer

import (
	"fmt"

	"github.com/spaghettifunk/oxygen/engine/core"
)

/** @brief Identifies one submitted import job. Monotonic per service. */
type ImportJobID uint64

/** @brief Severity of a single import diagnostic. */
type Severity uint8

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "info"
	}
}

/**
 * @brief One issue reported while importing. Code is a stable
 * dot-separated identifier ("gltf.missing_buffer", "import.canceled");
 * ObjectPath points into the source document when the issue is scoped
 * to one object.
 */
type Diagnostic struct {
	Severity   Severity
	Code       string
	Message    string
	SourcePath string
	ObjectPath string
}

func (d Diagnostic) String() string {
	if d.ObjectPath != "" {
		return fmt.Sprintf("[%s] %s: %s (%s: %s)", d.Severity, d.Code, d.Message, d.SourcePath, d.ObjectPath)
	}
	return fmt.Sprintf("[%s] %s: %s (%s)", d.Severity, d.Code, d.Message, d.SourcePath)
}

// CanceledDiagnostic is the single diagnostic a canceled job reports.
func CanceledDiagnostic(sourcePath string) Diagnostic {
	return Diagnostic{
		Severity:   SeverityWarning,
		Code:       "import.canceled",
		Message:    "import canceled",
		SourcePath: sourcePath,
	}
}

/** @brief What to import and where the cooked output goes. */
type ImportRequest struct {
	/** @brief Path to the source file (image, .gltf, .fbx). */
	SourcePath string
	/** @brief Directory the loose cooked container is written to. */
	CookedRoot string
	/** @brief Logical name; defaults to the source file stem. */
	Name string
	/** @brief Virtual directory assets mount under, e.g. "/Textures". */
	OutputPrefix string
	/** @brief Compute content hashes for descriptors and files. */
	ContentHashing bool
	Verbose        bool
	/** @brief Per-format options resolved from the manifest defaults. */
	Texture TextureOptions
	Scene   SceneOptions
}

/** @brief Counters the service reports while a job runs. */
type ImportProgress struct {
	Stage     string
	Submitted uint64
	Completed uint64
	Failed    uint64
	InFlight  uint64
}

/** @brief The terminal outcome of one import job. */
type ImportReport struct {
	CookedRoot       string
	SourceKey        core.SourceKey
	Diagnostics      []Diagnostic
	MaterialsWritten int
	GeometryWritten  int
	ScenesWritten    int
	TexturesWritten  int
	BuffersWritten   int
	Success          bool
}

// HasErrors reports whether any diagnostic is error severity.
func (r *ImportReport) HasErrors() bool {
	for _, d := range r.Diagnostics {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

/** @brief Invoked exactly once per accepted job, on the import goroutine. */
type CompletionFunc func(id ImportJobID, report ImportReport)

/** @brief Invoked on stage completion while a job runs. */
type ProgressFunc func(id ImportJobID, progress ImportProgress)
