package lode

import (
	"context"
	"fmt"
	"sync"

	"github.com/justapithecus/lode/lode"

	"github.com/justapithecus/fedrun/metrics"
	"github.com/justapithecus/fedrun/types"
)

// Journal appends load events to the journal dataset. It satisfies the
// runtime observer contract, so a runtime can journal every event by
// listing it in Config.Observers.
type Journal struct {
	dataset lode.Dataset
	metrics *metrics.Collector

	mu     sync.Mutex
	closed bool
}

// NewJournal opens a journal over factory. collector may be nil.
func NewJournal(factory lode.StoreFactory, collector *metrics.Collector) (*Journal, error) {
	ds, err := NewDataset(factory)
	if err != nil {
		return nil, err
	}
	return &Journal{dataset: ds, metrics: collector}, nil
}

// Dataset returns the underlying dataset for read-back.
func (j *Journal) Dataset() lode.Dataset {
	return j.dataset
}

// Append writes one event as its own snapshot.
func (j *Journal) Append(ctx context.Context, e *types.LoadEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return fmt.Errorf("journal closed")
	}

	_, err := j.dataset.Write(ctx, []any{toRecordMap(e)}, lode.Metadata{})
	j.metrics.IncJournalWrite(err == nil)
	if err != nil {
		return WrapWriteError(err, fmt.Sprintf("%s/remote=%s", DatasetID, e.Remote))
	}
	return nil
}

// Observe implements the runtime observer contract.
func (j *Journal) Observe(ctx context.Context, e *types.LoadEvent) error {
	return j.Append(ctx, e)
}

// Close stops further appends. Written snapshots are already durable.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.closed = true
	return nil
}
