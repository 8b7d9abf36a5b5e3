package importer

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/pelletier/go-toml/v2"
)

/**
 * @brief Service tuning knobs, loadable from a TOML file so tools and
 * the editor share one configuration surface.
 */
type ServiceOptions struct {
	/** @brief Workers in the CPU-bound stage pool. 0 means NumCPU. */
	ThreadPoolSize int `toml:"thread_pool_size"`
	/** @brief Capacity of the submission channel. */
	SubmissionQueueSize int `toml:"submission_queue_size"`
	/** @brief Workers per pipeline stage. */
	PipelineWorkers int `toml:"pipeline_workers"`
	/** @brief Capacity of each pipeline's in/out channels. */
	PipelineCapacity int `toml:"pipeline_capacity"`
	/** @brief Compute content hashes unless a job overrides it. */
	ContentHashing bool `toml:"content_hashing"`
	/** @brief Debounce window for the source watcher, in milliseconds. */
	WatchDebounceMillis int `toml:"watch_debounce_millis"`
}

func DefaultServiceOptions() ServiceOptions {
	return ServiceOptions{
		ThreadPoolSize:      runtime.NumCPU(),
		SubmissionQueueSize: 64,
		PipelineWorkers:     2,
		PipelineCapacity:    16,
		ContentHashing:      true,
		WatchDebounceMillis: 250,
	}
}

// LoadServiceOptions reads a TOML options file, filling unset fields
// from the defaults.
func LoadServiceOptions(path string) (ServiceOptions, error) {
	opts := DefaultServiceOptions()
	raw, err := os.ReadFile(path)
	if err != nil {
		return opts, fmt.Errorf("reading importer config %s: %w", path, err)
	}
	if err := toml.Unmarshal(raw, &opts); err != nil {
		return opts, fmt.Errorf("parsing importer config %s: %w", path, err)
	}
	return opts.normalized(), nil
}

func (o ServiceOptions) normalized() ServiceOptions {
	defaults := DefaultServiceOptions()
	if o.ThreadPoolSize <= 0 {
		o.ThreadPoolSize = defaults.ThreadPoolSize
	}
	if o.SubmissionQueueSize <= 0 {
		o.SubmissionQueueSize = defaults.SubmissionQueueSize
	}
	if o.PipelineWorkers <= 0 {
		o.PipelineWorkers = defaults.PipelineWorkers
	}
	if o.PipelineCapacity <= 0 {
		o.PipelineCapacity = defaults.PipelineCapacity
	}
	if o.WatchDebounceMillis <= 0 {
		o.WatchDebounceMillis = defaults.WatchDebounceMillis
	}
	return o
}

// WatchDebounce returns the watcher debounce as a duration.
func (o ServiceOptions) WatchDebounce() time.Duration {
	return time.Duration(o.WatchDebounceMillis) * time.Millisecond
}
