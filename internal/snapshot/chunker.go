// Package snapshot implements SharedMap's SnapshotChunker (spec §4.4):
// partitioning a kernel's serialized storage into a size-bounded blob set on
// write, and restoring it (both the chunked and legacy single-blob formats)
// on read. Grounded on the teacher's FileStorage.saveBlob/loadBlob pair
// (internal/storage/storage.go), generalized from a single document blob to
// a named multi-blob tree.
package snapshot

import (
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/webflow/shareddata/internal/blobstore"
	"github.com/webflow/shareddata/internal/kernel"
	"github.com/webflow/shareddata/internal/monitoring"
	"github.com/webflow/shareddata/internal/op"
)

const (
	// MinValueSizeSeparateSnapshotBlob is the threshold at or above which a
	// single value's serialized payload is written to its own blob (spec §4.4).
	MinValueSizeSeparateSnapshotBlob = 8 * 1024
	// MaxSnapshotBlobSize bounds the rolling header blob's estimated size
	// before it is flushed and a new one started (spec §4.4).
	MaxSnapshotBlobSize = 16 * 1024
	// perEntryOverheadEstimate is the heuristic constant spec §4.4 adds to a
	// value-type's length plus its value's length when estimating an entry's
	// contribution to the running header blob size. Not load-bearing (spec §9):
	// shrinking or growing it only shifts where a blob is flushed, never
	// which entries end up together correctness-wise.
	perEntryOverheadEstimate = 21

	headerBlobName = "header"
)

// headerDoc is the body of the `header` blob in the multi-blob format (spec
// §6 "Snapshot format — SharedMap").
type headerDoc struct {
	Blobs   []string                  `json:"blobs"`
	Content map[string]op.Serializable `json:"content"`
}

// Thresholds overrides the default §4.4 size constants, e.g. for tests that
// want to exercise chunking without megabyte-scale fixtures.
type Thresholds struct {
	MinValueSizeSeparateSnapshotBlob int
	MaxSnapshotBlobSize              int
}

func (t Thresholds) orDefault() Thresholds {
	if t.MinValueSizeSeparateSnapshotBlob <= 0 {
		t.MinValueSizeSeparateSnapshotBlob = MinValueSizeSeparateSnapshotBlob
	}
	if t.MaxSnapshotBlobSize <= 0 {
		t.MaxSnapshotBlobSize = MaxSnapshotBlobSize
	}
	return t
}

// Chunker partitions and restores a MapKernel's storage against a
// blobstore.Store.
type Chunker struct {
	thresholds Thresholds
	metrics    *monitoring.Metrics
}

// NewChunker constructs a Chunker. Zero-valued Thresholds fields fall back
// to the spec §4.4 defaults.
func NewChunker(thresholds Thresholds, metrics *monitoring.Metrics) *Chunker {
	return &Chunker{thresholds: thresholds.orDefault(), metrics: metrics}
}

// Write serializes k's storage and writes it to store as a `header` blob
// plus zero or more auxiliary `blob<N>` blobs, per spec §4.4. It returns the
// content digest (BlobDigest) of every auxiliary blob, keyed by the blob
// name it was written under in this snapshot, so a real blob-store consumer
// can dedupe across snapshots by content rather than by this process's
// monotonic naming (spec §4.4: "blob naming need not be stable across
// snapshots").
func (c *Chunker) Write(store blobstore.Store, k *kernel.Kernel) (map[string]string, error) {
	entries, err := k.SnapshotEntries()
	if err != nil {
		return nil, err
	}

	blobNames := []string{}
	digests := make(map[string]string)
	content := make(map[string]op.Serializable, len(entries))

	var headerChunk map[string]op.Serializable
	var headerChunkSize int
	nextBlobIndex := 0

	writeBlob := func(chunk map[string]op.Serializable) error {
		name := fmt.Sprintf("blob%d", nextBlobIndex)
		nextBlobIndex++
		body, err := json.Marshal(chunk)
		if err != nil {
			return fmt.Errorf("snapshot: marshal %s: %w", name, err)
		}
		if err := blobstore.WriteUTF8(store, name, body); err != nil {
			return fmt.Errorf("snapshot: write %s: %w", name, err)
		}
		blobNames = append(blobNames, name)
		digests[name] = BlobDigest(body)
		return nil
	}

	flushHeaderChunk := func() error {
		if len(headerChunk) == 0 {
			return nil
		}
		if err := writeBlob(headerChunk); err != nil {
			return err
		}
		headerChunk = nil
		headerChunkSize = 0
		return nil
	}

	for _, e := range entries {
		valueLen := len(e.Value.Value)
		estimate := len(e.Value.Type) + perEntryOverheadEstimate + valueLen

		if valueLen >= c.thresholds.MinValueSizeSeparateSnapshotBlob {
			if err := writeBlob(map[string]op.Serializable{e.Key: e.Value}); err != nil {
				return nil, err
			}
			continue
		}

		if headerChunkSize+estimate > c.thresholds.MaxSnapshotBlobSize {
			if err := flushHeaderChunk(); err != nil {
				return nil, err
			}
		}
		if headerChunk == nil {
			headerChunk = make(map[string]op.Serializable)
		}
		headerChunk[e.Key] = e.Value
		headerChunkSize += estimate
	}

	// The final accumulated header chunk becomes `content`, not another
	// auxiliary blob — spec §4.4 "the final head blob is written as a file
	// named header with body {blobs, content: finalHeaderObject}".
	if headerChunk != nil {
		content = headerChunk
	}

	doc := headerDoc{Blobs: blobNames, Content: content}
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("snapshot: marshal header: %w", err)
	}
	if err := blobstore.WriteUTF8(store, headerBlobName, body); err != nil {
		return nil, fmt.Errorf("snapshot: write header: %w", err)
	}

	if c.metrics != nil {
		c.metrics.SnapshotBlobCount.Observe(float64(len(blobNames) + 1))
		c.metrics.SnapshotBytes.Observe(float64(len(body)))
	}
	return digests, nil
}

// Restore reads store's `header` blob (and any blobs it references) and
// populates k, per spec §4.4/§6. It tolerates the legacy single-blob format
// (no `blobs` field): the whole header body is then a flat key->Serializable
// map.
func (c *Chunker) Restore(store blobstore.Store, k *kernel.Kernel) error {
	if c.metrics != nil {
		start := time.Now()
		defer func() { c.metrics.RestoreDuration.Observe(time.Since(start).Seconds()) }()
	}

	raw, err := blobstore.ReadUTF8(store, headerBlobName)
	if err != nil {
		return fmt.Errorf("snapshot: read header: %w", err)
	}

	var doc headerDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("snapshot: unmarshal header: %w", err)
	}

	if doc.Blobs == nil {
		// Legacy single-blob format: the whole body is the flat map.
		var legacy map[string]op.Serializable
		if err := json.Unmarshal(raw, &legacy); err != nil {
			return fmt.Errorf("snapshot: unmarshal legacy header: %w", err)
		}
		return populateAll(k, legacy)
	}

	if err := populateAll(k, doc.Content); err != nil {
		return err
	}

	// Population order among blobs is unordered (spec §4.4): each entry
	// targets a distinct key and no op stream is interleaved with restore,
	// so sequential reads are as correct as parallel ones and avoid the
	// synchronization this core's single-threaded model would otherwise need.
	for _, name := range doc.Blobs {
		blobRaw, err := blobstore.ReadUTF8(store, name)
		if err != nil {
			return fmt.Errorf("snapshot: read %s: %w", name, err)
		}
		var chunk map[string]op.Serializable
		if err := json.Unmarshal(blobRaw, &chunk); err != nil {
			return fmt.Errorf("snapshot: unmarshal %s: %w", name, err)
		}
		if err := populateAll(k, chunk); err != nil {
			return err
		}
	}
	return nil
}

func populateAll(k *kernel.Kernel, entries map[string]op.Serializable) error {
	for key, value := range entries {
		if err := k.Populate(key, value); err != nil {
			return fmt.Errorf("snapshot: populate %q: %w", key, err)
		}
	}
	return nil
}

// BlobDigest computes the content-address digest content-addressed blob
// storage would key an oversized value's blob by (spec §4.4 "these blobs are
// content-addressed upstream"). This module does not require its reference
// blobstore.Store to dedupe by this digest; it is exposed so a real
// consumer-side blob store can.
func BlobDigest(content []byte) string {
	sum := blake2b.Sum256(content)
	return fmt.Sprintf("%x", sum)
}
