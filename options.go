package tansaku

import (
	"log/slog"
	"time"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all settings after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	logger         *slog.Logger
	version        string
	storageURL     string
	studyName      string
	direction      string
	nTrials        int
	nJobs          int
	timeout        time.Duration
	seed           int64
	samplerType    string
	samplerKeyword map[string]any
	prunerType     string
	prunerKeyword  map[string]any
	spaceJSON      []byte
	baseConfig     map[string]any
	outputRoot     string
	trainer        Trainer
	loadIfExists   bool
	considerPruned bool
	failFast       bool
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithStorageURL overrides the storage URL from config
// (TANSAKU_STORAGE_URL env var). Supported schemes: postgres://,
// sqlite://, memory://.
func WithStorageURL(url string) Option {
	return func(o *resolvedOptions) { o.storageURL = url }
}

// WithStudy sets the study name. Required unless TANSAKU_STUDY is set.
func WithStudy(name string) Option {
	return func(o *resolvedOptions) { o.studyName = name }
}

// WithDirection sets the optimization direction, "minimize" or
// "maximize". Defaults to minimize.
func WithDirection(direction string) Option {
	return func(o *resolvedOptions) { o.direction = direction }
}

// WithNTrials sets how many trials this run starts, shared across all
// workers and all cooperating processes pointed at the same study.
func WithNTrials(n int) Option {
	return func(o *resolvedOptions) { o.nTrials = n }
}

// WithNJobs sets the in-process worker count.
func WithNJobs(n int) Option {
	return func(o *resolvedOptions) { o.nJobs = n }
}

// WithTimeout bounds when trials may start. Trials already running
// when the deadline passes run to completion.
func WithTimeout(d time.Duration) Option {
	return func(o *resolvedOptions) { o.timeout = d }
}

// WithSeed seeds the sampler for reproducible suggestion sequences.
func WithSeed(seed int64) Option {
	return func(o *resolvedOptions) { o.seed = seed }
}

// WithSampler selects the suggestion strategy by name ("random",
// "grid", "tpe", "gp") with its strategy-specific keyword arguments.
// Empty type means seeded random.
func WithSampler(typ string, keyword map[string]any) Option {
	return func(o *resolvedOptions) {
		o.samplerType = typ
		o.samplerKeyword = keyword
	}
}

// WithPruner selects the pruning strategy by name ("median", "nop")
// with its strategy-specific keyword arguments. Absent means no trial
// is ever pruned.
func WithPruner(typ string, keyword map[string]any) Option {
	return func(o *resolvedOptions) {
		o.prunerType = typ
		o.prunerKeyword = keyword
	}
}

// WithSearchSpace sets the JSON search-space descriptor: an ordered
// array of {"type": kind, "keyword": {...}} entries. Required.
func WithSearchSpace(raw []byte) Option {
	return func(o *resolvedOptions) { o.spaceJSON = raw }
}

// WithBaseConfig sets the base training configuration that sampled
// parameters are overlaid onto. Keys not named in the search space
// pass through untouched.
func WithBaseConfig(cfg map[string]any) Option {
	return func(o *resolvedOptions) { o.baseConfig = cfg }
}

// WithOutputRoot sets the directory under which each trial gets an
// isolated trial_<n> subdirectory.
func WithOutputRoot(dir string) Option {
	return func(o *resolvedOptions) { o.outputRoot = dir }
}

// WithTrainer sets the training collaborator. Required.
func WithTrainer(t Trainer) Option {
	return func(o *resolvedOptions) { o.trainer = t }
}

// WithLoadIfExists permits attaching to an existing study of the same
// name instead of failing on the duplicate.
func WithLoadIfExists() Option {
	return func(o *resolvedOptions) { o.loadIfExists = true }
}

// WithPrunedAsCandidates makes pruned trials' last reported values
// eligible when selecting the best trial. Recorded on the study at
// creation time.
func WithPrunedAsCandidates() Option {
	return func(o *resolvedOptions) { o.considerPruned = true }
}

// WithFailFast makes the first trial failure abort the whole run
// instead of being recorded and skipped.
func WithFailFast() Option {
	return func(o *resolvedOptions) { o.failFast = true }
}
