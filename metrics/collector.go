// Package metrics provides per-runtime counters for chunk loading.
//
// The Collector accumulates counters for the lifetime of one runtime
// instance. It is a leaf package with no internal dependencies.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Registry
	ChunkRequests  int64
	DedupJoins     int64
	LoadsStarted   int64
	LoadsInstalled int64
	LoadsFailed    int64

	// Transport
	LocalFetchSuccess  int64
	LocalFetchFailure  int64
	RemoteFetchSuccess int64
	RemoteFetchFailure int64
	BytesFetched       int64

	// Sandbox
	Evaluations        int64
	EvaluationFailures int64
	ModuleImports      int64
	ModuleCacheHits    int64

	// Observers
	JournalWriteSuccess int64
	JournalWriteFailure int64
	ObserverFailures    int64

	// InstalledByRemote counts installed chunks per remote name.
	InstalledByRemote map[string]int64

	// Dimensions (informational, set at construction)
	Runtime    string
	InstanceID string
}

// Collector accumulates counters for one runtime instance.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	chunkRequests  int64
	dedupJoins     int64
	loadsStarted   int64
	loadsInstalled int64
	loadsFailed    int64

	localFetchSuccess  int64
	localFetchFailure  int64
	remoteFetchSuccess int64
	remoteFetchFailure int64
	bytesFetched       int64

	evaluations        int64
	evaluationFailures int64
	moduleImports      int64
	moduleCacheHits    int64

	journalWriteSuccess int64
	journalWriteFailure int64
	observerFailures    int64

	installedByRemote map[string]int64

	runtime    string
	instanceID string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(runtime, instanceID string) *Collector {
	return &Collector{
		installedByRemote: make(map[string]int64),
		runtime:           runtime,
		instanceID:        instanceID,
	}
}

func (c *Collector) add(field *int64, n int64) {
	c.mu.Lock()
	*field += n
	c.mu.Unlock()
}

// --- Registry ---

// IncChunkRequest records an EnsureInstalled call.
func (c *Collector) IncChunkRequest() {
	if c == nil {
		return
	}
	c.add(&c.chunkRequests, 1)
}

// IncDedupJoin records a caller that attached to an in-flight load.
func (c *Collector) IncDedupJoin() {
	if c == nil {
		return
	}
	c.add(&c.dedupJoins, 1)
}

// IncLoadStarted records the start of a fetch/evaluate/install sequence.
func (c *Collector) IncLoadStarted() {
	if c == nil {
		return
	}
	c.add(&c.loadsStarted, 1)
}

// IncLoadInstalled records a chunk reaching the loaded state.
func (c *Collector) IncLoadInstalled(remote string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.loadsInstalled++
	c.installedByRemote[remote]++
	c.mu.Unlock()
}

// IncLoadFailed records a failed load attempt.
func (c *Collector) IncLoadFailed() {
	if c == nil {
		return
	}
	c.add(&c.loadsFailed, 1)
}

// --- Transport ---

// IncLocalFetch records the outcome of a local read.
func (c *Collector) IncLocalFetch(ok bool) {
	if c == nil {
		return
	}
	if ok {
		c.add(&c.localFetchSuccess, 1)
		return
	}
	c.add(&c.localFetchFailure, 1)
}

// IncRemoteFetch records the outcome of one HTTP attempt.
func (c *Collector) IncRemoteFetch(ok bool) {
	if c == nil {
		return
	}
	if ok {
		c.add(&c.remoteFetchSuccess, 1)
		return
	}
	c.add(&c.remoteFetchFailure, 1)
}

// AddBytesFetched adds to the fetched byte total.
func (c *Collector) AddBytesFetched(n int64) {
	if c == nil {
		return
	}
	c.add(&c.bytesFetched, n)
}

// --- Sandbox ---

// IncEvaluation records a chunk evaluation and whether it failed.
func (c *Collector) IncEvaluation(failed bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.evaluations++
	if failed {
		c.evaluationFailures++
	}
	c.mu.Unlock()
}

// IncModuleImport records an ImportRemote call that returned exports.
// cached is true when the exports came from the module cache.
func (c *Collector) IncModuleImport(cached bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.moduleImports++
	if cached {
		c.moduleCacheHits++
	}
	c.mu.Unlock()
}

// --- Observers ---
// Journal counters are per-call. A journal write of one event counts as 1.

// IncJournalWrite records the outcome of a journal write.
func (c *Collector) IncJournalWrite(ok bool) {
	if c == nil {
		return
	}
	if ok {
		c.add(&c.journalWriteSuccess, 1)
		return
	}
	c.add(&c.journalWriteFailure, 1)
}

// IncObserverFailure records an observer error that was logged and dropped.
func (c *Collector) IncObserverFailure() {
	if c == nil {
		return
	}
	c.add(&c.observerFailures, 1)
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	byRemote := make(map[string]int64, len(c.installedByRemote))
	for k, v := range c.installedByRemote {
		byRemote[k] = v
	}

	return Snapshot{
		ChunkRequests:  c.chunkRequests,
		DedupJoins:     c.dedupJoins,
		LoadsStarted:   c.loadsStarted,
		LoadsInstalled: c.loadsInstalled,
		LoadsFailed:    c.loadsFailed,

		LocalFetchSuccess:  c.localFetchSuccess,
		LocalFetchFailure:  c.localFetchFailure,
		RemoteFetchSuccess: c.remoteFetchSuccess,
		RemoteFetchFailure: c.remoteFetchFailure,
		BytesFetched:       c.bytesFetched,

		Evaluations:        c.evaluations,
		EvaluationFailures: c.evaluationFailures,
		ModuleImports:      c.moduleImports,
		ModuleCacheHits:    c.moduleCacheHits,

		JournalWriteSuccess: c.journalWriteSuccess,
		JournalWriteFailure: c.journalWriteFailure,
		ObserverFailures:    c.observerFailures,

		InstalledByRemote: byRemote,

		Runtime:    c.runtime,
		InstanceID: c.instanceID,
	}
}
