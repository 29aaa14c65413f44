// Package ingest is the durable ordered stream of inbound audio frames. The
// fabric appends every binary frame it receives; the pipeline side consumes
// through a consumer group and acknowledges each record. Delivery is
// at-least-once; consumers run record ids through the dedup layer for
// effective at-most-once processing.
//
// Two implementations: [Memory] for tests and single-process deployments,
// [Redis] over Redis Streams for deployments that need durability across
// relay restarts.
package ingest

import (
	"context"
	"errors"
)

// Record is one appended audio frame.
type Record struct {
	// ID is assigned by the stream on append and is the acknowledgment key.
	ID string

	SessionID  string
	SpeakerID  string
	SourceLang string
	Data       []byte
}

// Key returns the partition key for ordering purposes.
func (r Record) Key() string {
	return r.SessionID + ":" + r.SpeakerID
}

// ErrClosed is returned by operations on a closed stream.
var ErrClosed = errors.New("ingest: closed")

// Stream is the ingestion stream interface. Records within one partition key
// are delivered in append order.
type Stream interface {
	// Append adds a record and returns its assigned id.
	Append(ctx context.Context, rec Record) (string, error)

	// Consume returns the channel of delivered records. Each record must be
	// acknowledged with Ack. The channel is closed when the stream closes.
	Consume(ctx context.Context) (<-chan Record, error)

	// Ack acknowledges a delivered record by id.
	Ack(ctx context.Context, recordID string) error

	// Close stops delivery and closes consumer channels.
	Close() error
}
