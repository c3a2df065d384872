// Package redisstream reads raw ledger records from a Redis Stream. The
// chain-facing emitter appends one entry per contract event with a "kind"
// field plus the event's own fields; the entry ID doubles as the cursor
// position.
package redisstream

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/cheqlabs/dCheque/internal/decoder"
	"github.com/cheqlabs/dCheque/internal/metrics"
	"github.com/cheqlabs/dCheque/internal/projector"
)

const kindField = "kind"

// Source tails one Redis Stream, oldest first, resuming after a given
// entry ID. It satisfies projector.Source.
type Source struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

func New(url, stream string, logger *slog.Logger) (*Source, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Source{
		client: client,
		stream: stream,
		logger: logger.With("component", "redisstream", "stream", stream),
	}, nil
}

func (s *Source) Close() error {
	return s.client.Close()
}

// Read returns up to limit entries strictly after the given entry ID. An
// empty after starts from the beginning of the stream.
func (s *Source) Read(ctx context.Context, after string, limit int) ([]projector.Record, error) {
	start := "-"
	if after != "" {
		// Exclusive range start, so the resume position is never replayed.
		start = "(" + after
	}

	msgs, err := s.client.XRangeN(ctx, s.stream, start, "+", int64(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("xrange %s from %s: %w", s.stream, start, err)
	}

	records := make([]projector.Record, 0, len(msgs))
	for _, msg := range msgs {
		records = append(records, projector.Record{
			Position: msg.ID,
			Raw:      rawFromMessage(msg),
		})
	}
	return records, nil
}

// Len reports the current total entry count of the stream, for status
// reporting.
func (s *Source) Len(ctx context.Context) (int64, error) {
	n, err := s.client.XLen(ctx, s.stream).Result()
	if err != nil {
		return 0, fmt.Errorf("xlen %s: %w", s.stream, err)
	}
	return n, nil
}

func rawFromMessage(msg redis.XMessage) decoder.Raw {
	raw := decoder.Raw{
		ID:     msg.ID,
		Fields: make(map[string]string, len(msg.Values)),
	}
	for k, v := range msg.Values {
		sv, ok := v.(string)
		if !ok {
			// go-redis decodes stream values as strings; anything else
			// is a malformed entry and will fail field decoding.
			metrics.SourceMalformedValues.Inc()
			sv = fmt.Sprint(v)
		}
		if k == kindField {
			raw.Kind = sv
			continue
		}
		raw.Fields[k] = sv
	}
	return raw
}
