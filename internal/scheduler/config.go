package scheduler

import (
	"os"
	"time"

	"github.com/flowstage/dagscheduler/internal/platform/envutil"
	"gopkg.in/yaml.v3"
)

// Config holds every recognized tuning knob. LoadConfig reads environment
// variables first, then overlays a YAML file if one is given, following the
// env-first convention the rest of the ambient stack uses for configuration.
type Config struct {
	// MaxConsecutiveStageAttempts aborts a stage once this many attempts
	// have failed (spec default: 4).
	MaxConsecutiveStageAttempts int `yaml:"maxConsecutiveStageAttempts"`

	// UnRegisterOutputOnHostOnFetchFailure treats a fetch failure as a
	// host-wide output loss when an external shuffle service is in use.
	UnRegisterOutputOnHostOnFetchFailure bool `yaml:"unRegisterOutputOnHostOnFetchFailure"`

	// ExternalShuffleServiceEnabled gates whether ExecutorLost without
	// WorkerLost defers shuffle-file unregistration (§4.4).
	ExternalShuffleServiceEnabled bool `yaml:"externalShuffleServiceEnabled"`

	// BarrierMaxConcurrentTasksCheckInterval is the retry interval for
	// barrier-stage admission when concurrent slots are insufficient.
	BarrierMaxConcurrentTasksCheckInterval time.Duration `yaml:"barrierMaxConcurrentTasksCheckInterval"`

	// BarrierMaxConcurrentTasksCheckMaxFailures bounds the number of
	// barrier-admission retries before the job is failed.
	BarrierMaxConcurrentTasksCheckMaxFailures int `yaml:"barrierMaxConcurrentTasksCheckMaxFailures"`

	// ResubmitTimeout is the fetch-failure debounce window (spec: 200ms).
	ResubmitTimeout time.Duration `yaml:"resubmitTimeout"`

	// BlockManagerHeartbeatTimeout bounds the synchronous heartbeat RPC.
	BlockManagerHeartbeatTimeout time.Duration `yaml:"blockManagerHeartbeatTimeout"`

	// TestNoStageRetry disables stage retry entirely, for deterministic
	// tests (maps to spec's "test.noStageRetry").
	TestNoStageRetry bool `yaml:"testNoStageRetry"`

	// DynamicAllocationEnabled, when true, makes barrier stages
	// unconditionally inadmissible (§4.6 admission rule a).
	DynamicAllocationEnabled bool `yaml:"dynamicAllocationEnabled"`

	// MaxConcurrentTaskSlots bounds how many tasks can run simultaneously;
	// used by barrier-stage admission rule (b).
	MaxConcurrentTaskSlots int `yaml:"maxConcurrentTaskSlots"`
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxConsecutiveStageAttempts:               4,
		UnRegisterOutputOnHostOnFetchFailure:      false,
		ExternalShuffleServiceEnabled:             false,
		BarrierMaxConcurrentTasksCheckInterval:    5 * time.Second,
		BarrierMaxConcurrentTasksCheckMaxFailures: 3,
		ResubmitTimeout:                           200 * time.Millisecond,
		BlockManagerHeartbeatTimeout:              600 * time.Second,
		TestNoStageRetry:                          false,
		DynamicAllocationEnabled:                  false,
		MaxConcurrentTaskSlots:                    0,
	}
}

// LoadConfig builds a Config from environment variables, then overlays
// yamlPath's contents if yamlPath is non-empty and the file exists.
func LoadConfig(yamlPath string) (Config, error) {
	cfg := DefaultConfig()

	cfg.MaxConsecutiveStageAttempts = envutil.Int("DAG_MAX_CONSECUTIVE_STAGE_ATTEMPTS", cfg.MaxConsecutiveStageAttempts)
	cfg.UnRegisterOutputOnHostOnFetchFailure = envutil.Bool("DAG_UNREGISTER_OUTPUT_ON_HOST_ON_FETCH_FAILURE", cfg.UnRegisterOutputOnHostOnFetchFailure)
	cfg.ExternalShuffleServiceEnabled = envutil.Bool("DAG_EXTERNAL_SHUFFLE_SERVICE_ENABLED", cfg.ExternalShuffleServiceEnabled)
	cfg.BarrierMaxConcurrentTasksCheckInterval = envutil.Duration("DAG_BARRIER_CHECK_INTERVAL", cfg.BarrierMaxConcurrentTasksCheckInterval)
	cfg.BarrierMaxConcurrentTasksCheckMaxFailures = envutil.Int("DAG_BARRIER_CHECK_MAX_FAILURES", cfg.BarrierMaxConcurrentTasksCheckMaxFailures)
	cfg.ResubmitTimeout = envutil.Duration("DAG_RESUBMIT_TIMEOUT", cfg.ResubmitTimeout)
	cfg.BlockManagerHeartbeatTimeout = envutil.Duration("DAG_BLOCK_MANAGER_HEARTBEAT_TIMEOUT", cfg.BlockManagerHeartbeatTimeout)
	cfg.TestNoStageRetry = envutil.Bool("DAG_TEST_NO_STAGE_RETRY", cfg.TestNoStageRetry)
	cfg.DynamicAllocationEnabled = envutil.Bool("DAG_DYNAMIC_ALLOCATION_ENABLED", cfg.DynamicAllocationEnabled)
	cfg.MaxConcurrentTaskSlots = envutil.Int("DAG_MAX_CONCURRENT_TASK_SLOTS", cfg.MaxConcurrentTaskSlots)

	if yamlPath == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(yamlPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
