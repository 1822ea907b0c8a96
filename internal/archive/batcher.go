// Package archive batches agent track points into day-partitioned parquet
// files on object storage, for long-term playback and reporting.
package archive

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/fieldtrack/tracker/internal/model"
)

// TrackRecord is one archived position fix.
type TrackRecord struct {
	AgentID          string  `parquet:"name=agent_id, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Latitude         float64 `parquet:"name=latitude, type=DOUBLE"`
	Longitude        float64 `parquet:"name=longitude, type=DOUBLE"`
	Accuracy         float64 `parquet:"name=accuracy, type=DOUBLE"`
	ConnectionStatus string  `parquet:"name=connection_status, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	BatteryLevel     int32   `parquet:"name=battery_level, type=INT32"`
	ReceivedAt       int64   `parquet:"name=received_at, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

// ToRecord converts a location update; ok is false when the update
// carries no coordinates.
func ToRecord(ev model.LocationUpdate, receivedAt time.Time) (TrackRecord, bool) {
	if ev.Latitude == nil || ev.Longitude == nil {
		return TrackRecord{}, false
	}
	r := TrackRecord{
		AgentID:          ev.AgentID,
		Latitude:         *ev.Latitude,
		Longitude:        *ev.Longitude,
		ConnectionStatus: ev.Status,
		BatteryLevel:     -1,
		ReceivedAt:       receivedAt.UTC().UnixMilli(),
	}
	if ev.Accuracy != nil {
		r.Accuracy = *ev.Accuracy
	}
	if ev.BatteryLevel != nil {
		r.BatteryLevel = int32(*ev.BatteryLevel)
	}
	return r, true
}

// Batcher accumulates records and flushes them as one parquet object when
// any of the size/byte/interval thresholds is reached.
type Batcher struct {
	maxRecords  int
	maxBytes    int64
	maxInterval time.Duration

	resetTime time.Time
	buf       []TrackRecord
	bytes     int64

	store       *ObjectStore
	basePath    string
	compression string
}

func NewBatcher(maxRecords int, maxBytes int64, maxInterval time.Duration, store *ObjectStore, basePath, compression string) *Batcher {
	b := &Batcher{
		maxRecords:  maxRecords,
		maxBytes:    maxBytes,
		maxInterval: maxInterval,
		store:       store,
		basePath:    basePath,
		compression: compression,
		resetTime:   time.Now().UTC(),
	}
	if maxRecords > 0 {
		b.buf = make([]TrackRecord, 0, maxRecords)
	}
	return b
}

// Add buffers one record and reports whether a flush is due.
func (b *Batcher) Add(r TrackRecord) (shouldFlush bool) {
	if len(b.buf) == 0 {
		b.resetTime = time.Now().UTC()
		b.bytes = 0
	}
	b.buf = append(b.buf, r)
	b.bytes += int64(len(r.AgentID)+len(r.ConnectionStatus)) + 40

	byRecords := b.maxRecords > 0 && len(b.buf) >= b.maxRecords
	byBytes := b.maxBytes > 0 && b.bytes >= b.maxBytes
	return byRecords || byBytes
}

// ShouldFlushByInterval reports whether the oldest buffered record has
// waited past the interval threshold.
func (b *Batcher) ShouldFlushByInterval() bool {
	return b.maxInterval > 0 && len(b.buf) > 0 && time.Since(b.resetTime) >= b.maxInterval
}

// Len returns the number of buffered records.
func (b *Batcher) Len() int { return len(b.buf) }

// Flush writes the buffer to a local parquet file, uploads it, and resets.
func (b *Batcher) Flush(ctx context.Context) (int, error) {
	n := len(b.buf)
	if n == 0 {
		return 0, nil
	}

	ts := time.Now().UTC()
	fn := fmt.Sprintf("tracks-%s-%s.parquet", ts.Format("2006-01-02T15-04-05Z"), uuid.NewString())
	tmp := filepath.Join(os.TempDir(), fn)

	pw, closeFn, err := newLocalParquetWriter[TrackRecord](tmp, 4, b.compression)
	if err != nil {
		return 0, err
	}
	for i := range b.buf {
		if err := pw.Write(b.buf[i]); err != nil {
			_ = closeFn()
			return 0, err
		}
	}
	if err := closeFn(); err != nil {
		return 0, err
	}

	f, err := os.Open(tmp)
	if err != nil {
		return 0, err
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return 0, err
	}

	objPath := BuildObjectPath(b.basePath, ts, fn)
	if err := b.store.Upload(ctx, objPath, f, fi.Size()); err != nil {
		_ = f.Close()
		return 0, err
	}
	_ = f.Close()
	_ = os.Remove(tmp)

	b.buf = b.buf[:0]
	b.bytes = 0
	b.resetTime = time.Now().UTC()
	return n, nil
}

// Run consumes location updates from ch and archives them until ctx is
// cancelled, flushing any remainder on the way out.
func (b *Batcher) Run(ctx context.Context, ch <-chan model.LocationUpdate, logger *log.Logger) {
	t := time.NewTicker(10 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if n, err := b.Flush(flushCtx); err != nil {
				logger.Printf("[archive] final flush failed: %v", err)
			} else if n > 0 {
				logger.Printf("[archive] final flush wrote %d records", n)
			}
			cancel()
			return
		case ev := <-ch:
			r, ok := ToRecord(ev, time.Now())
			if !ok {
				continue
			}
			if b.Add(r) {
				if n, err := b.Flush(ctx); err != nil {
					logger.Printf("[archive] flush failed: %v", err)
				} else {
					logger.Printf("[archive] flushed %d records", n)
				}
			}
		case <-t.C:
			if b.ShouldFlushByInterval() {
				if n, err := b.Flush(ctx); err != nil {
					logger.Printf("[archive] interval flush failed: %v", err)
				} else {
					logger.Printf("[archive] interval flush wrote %d records", n)
				}
			}
		}
	}
}
