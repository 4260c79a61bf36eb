// Package adapter defines the notification adapter boundary.
//
// Adapters publish chunk-installed notifications to downstream systems
// (CDN warmers, dashboards, other runtimes). The runtime owns adapter
// lifecycle through Notifier; users provide configuration only.
package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/justapithecus/fedrun/types"
)

// EventTypeChunkInstalled is the only event type adapters publish.
const EventTypeChunkInstalled = "chunk_installed"

// ChunkInstalledEvent is the payload published when a chunk is installed.
type ChunkInstalledEvent struct {
	ContractVersion string `json:"contract_version" msgpack:"contract_version"`
	EventType       string `json:"event_type" msgpack:"event_type"` // always "chunk_installed"
	EventID         string `json:"event_id" msgpack:"event_id"`
	InstanceID      string `json:"instance_id" msgpack:"instance_id"`
	Runtime         string `json:"runtime" msgpack:"runtime"`
	Remote          string `json:"remote" msgpack:"remote"`
	ChunkID         string `json:"chunk_id" msgpack:"chunk_id"`
	Source          string `json:"source" msgpack:"source"` // local or remote
	Location        string `json:"location" msgpack:"location"`
	Bytes           int64  `json:"bytes" msgpack:"bytes"`
	DurationMs      int64  `json:"duration_ms" msgpack:"duration_ms"`
	Timestamp       string `json:"timestamp" msgpack:"timestamp"` // RFC 3339
}

// FromLoadEvent builds the notification payload for an install event.
func FromLoadEvent(e *types.LoadEvent) *ChunkInstalledEvent {
	return &ChunkInstalledEvent{
		ContractVersion: e.ContractVersion,
		EventType:       EventTypeChunkInstalled,
		EventID:         e.EventID,
		InstanceID:      e.InstanceID,
		Runtime:         e.Runtime,
		Remote:          e.Remote,
		ChunkID:         string(e.ChunkID),
		Source:          string(e.Source),
		Location:        e.Location,
		Bytes:           e.Bytes,
		DurationMs:      e.DurationMs,
		Timestamp:       e.Ts,
	}
}

// Adapter publishes chunk-installed events to a downstream system.
type Adapter interface {
	// Publish sends one event downstream.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *ChunkInstalledEvent) error

	// Close releases adapter resources.
	Close() error
}

// Encoding selects the wire format of published payloads.
type Encoding string

// Supported encodings.
const (
	EncodingJSON    Encoding = "json"
	EncodingMsgpack Encoding = "msgpack"
)

// ParseEncoding validates an encoding name. Empty selects JSON.
func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(s) {
	case "", EncodingJSON:
		return EncodingJSON, nil
	case EncodingMsgpack:
		return EncodingMsgpack, nil
	}
	return "", fmt.Errorf("unknown encoding %q (want json or msgpack)", s)
}

// Marshal encodes event in the given encoding.
func (enc Encoding) Marshal(event *ChunkInstalledEvent) ([]byte, error) {
	if enc == EncodingMsgpack {
		return msgpack.Marshal(event)
	}
	return json.Marshal(event)
}

// ContentType returns the MIME type for the encoding.
func (enc Encoding) ContentType() string {
	if enc == EncodingMsgpack {
		return "application/msgpack"
	}
	return "application/json"
}

// Unmarshal decodes a payload produced by Marshal.
func (enc Encoding) Unmarshal(data []byte) (*ChunkInstalledEvent, error) {
	var event ChunkInstalledEvent
	var err error
	if enc == EncodingMsgpack {
		err = msgpack.Unmarshal(data, &event)
	} else {
		err = json.Unmarshal(data, &event)
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retriable for Retry.
func Permanent(err error) error {
	return &permanentError{err: err}
}

// Backoff returns the delay before retry attempt i (i >= 1).
func Backoff(i int) time.Duration {
	return time.Duration(1<<uint(i-1)) * 500 * time.Millisecond
}

// Retry calls fn once plus up to retries more times with exponential
// backoff between attempts. Errors wrapped with Permanent stop immediately.
func Retry(ctx context.Context, name string, retries int, fn func(context.Context) error) error {
	var lastErr error
	attempts := 1 + retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: context canceled: %w", name, err)
		}

		if i > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: context canceled during backoff: %w", name, ctx.Err())
			case <-time.After(Backoff(i)):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return fmt.Errorf("%s: non-retriable error: %w", name, perm.err)
		}
	}

	return fmt.Errorf("%s: failed after %d attempts: %w", name, attempts, lastErr)
}
