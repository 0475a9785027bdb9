package replay

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/vikasavnish/seqfuzz/pkg/logger"
	"github.com/vikasavnish/seqfuzz/pkg/sequences"
)

// Bucket is one distinct bug.
type Bucket struct {
	ID           string
	Origin       string
	StatusCode   int
	SequenceHash string
	Requests     []string
	Path         string
	Count        int
}

// BugBuckets groups reported bugs by origin, status code and sequence and
// writes a replay log for each distinct one.
type BugBuckets struct {
	dir    string
	logger *slog.Logger

	mu      sync.Mutex
	buckets map[string]*Bucket
}

// NewBugBuckets writes logs under dir. An empty dir keeps buckets in
// memory only.
func NewBugBuckets(dir string, log *slog.Logger) *BugBuckets {
	return &BugBuckets{dir: dir, logger: logger.For(log, logger.ComponentBugBuckets), buckets: make(map[string]*Bucket)}
}

// ReportBug records rs as a bug found by origin.
func (b *BugBuckets) ReportBug(origin string, rs *sequences.RenderedSequence) error {
	status := 0
	if rs.FinalResponse != nil {
		status = rs.FinalResponse.StatusCode
	}
	hash := rs.Sequence.Hash()
	key := fmt.Sprintf("%s|%d|%s", origin, status, hash)

	b.mu.Lock()
	defer b.mu.Unlock()
	if bucket, ok := b.buckets[key]; ok {
		bucket.Count++
		return nil
	}

	bucket := &Bucket{
		ID:           newID(),
		Origin:       origin,
		StatusCode:   status,
		SequenceHash: hash,
		Requests:     rs.Sequence.RequestIDs(),
		Count:        1,
	}
	if b.dir != "" {
		path, err := b.writeLog(bucket, rs)
		if err != nil {
			return err
		}
		bucket.Path = path
	}
	b.buckets[key] = bucket
	b.logger.Info("bug found",
		"bucket", bucket.ID,
		"origin", origin,
		"status", status,
		logger.Sequence(bucket.Requests))
	return nil
}

func (b *BugBuckets) writeLog(bucket *Bucket, rs *sequences.RenderedSequence) (string, error) {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return "", fmt.Errorf("create bug bucket dir: %w", err)
	}
	path := filepath.Join(b.dir, fmt.Sprintf("%s_%d_%s.replay.txt", bucket.Origin, bucket.StatusCode, bucket.ID))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create replay log: %w", err)
	}
	defer f.Close()

	header := []string{
		fmt.Sprintf("%s_%d", bucket.Origin, bucket.StatusCode),
		"",
		"Hash: " + bucket.SequenceHash,
		"",
		"Replay with: seqfuzz replay " + filepath.Base(path),
	}
	if err := Write(f, header, FromSequence(rs.Sequence)); err != nil {
		return "", fmt.Errorf("write replay log: %w", err)
	}
	return path, nil
}

// Buckets returns every distinct bug, ordered by id.
func (b *BugBuckets) Buckets() []Bucket {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Bucket, 0, len(b.buckets))
	for _, bucket := range b.buckets {
		out = append(out, *bucket)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func newID() string {
	return ulid.Make().String()
}
