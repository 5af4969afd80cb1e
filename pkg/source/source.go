// Package source implements the "Event source (consumed)" external
// interface spec §6 describes: a cursor-style reader that yields
// LogEvents in time order and persists a bookmark {channel -> last
// processed time} so a restart does not replay already-acknowledged
// events.
package source

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sentineld/sentineld/pkg/types"
)

// Bookmark tracks the last processed event time per channel.
type Bookmark map[string]time.Time

func loadBookmark(path string) Bookmark {
	bm := Bookmark{}
	data, err := os.ReadFile(path)
	if err != nil {
		return bm
	}
	_ = json.Unmarshal(data, &bm)
	return bm
}

func saveBookmark(path string, bm Bookmark) error {
	data, err := json.Marshal(bm)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// NDJSONSource tails an append-only newline-delimited JSON file of
// LogEvents, polling for new lines and skipping anything at or before
// the channel's bookmarked time.
type NDJSONSource struct {
	path         string
	bookmarkPath string
	pollInterval time.Duration
	logger       *logrus.Logger

	mu       sync.Mutex
	bookmark Bookmark
}

// NewNDJSONSource builds a source tailing path, persisting its
// bookmark to bookmarkPath every time a batch of new lines is
// consumed.
func NewNDJSONSource(path, bookmarkPath string, pollInterval time.Duration, logger *logrus.Logger) *NDJSONSource {
	return &NDJSONSource{
		path:         path,
		bookmarkPath: bookmarkPath,
		pollInterval: pollInterval,
		logger:       logger,
		bookmark:     loadBookmark(bookmarkPath),
	}
}

// Run polls path for new lines until ctx is cancelled, emitting each
// unacknowledged LogEvent onto out. It never closes out itself — the
// caller owns the channel lifetime.
func (s *NDJSONSource) Run(ctx context.Context, out chan<- types.LogEvent) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	var offset int64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			var err error
			offset, err = s.drain(ctx, out, offset)
			if err != nil && s.logger != nil {
				s.logger.WithError(err).Warn("failed to read event source")
			}
		}
	}
}

func (s *NDJSONSource) drain(ctx context.Context, out chan<- types.LogEvent, offset int64) (int64, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return offset, nil
		}
		return offset, err
	}
	defer f.Close()

	if _, err := f.Seek(offset, 0); err != nil {
		return offset, err
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var consumed int64
	for scanner.Scan() {
		line := scanner.Bytes()
		consumed += int64(len(line)) + 1

		var event types.LogEvent
		if err := json.Unmarshal(line, &event); err != nil {
			if s.logger != nil {
				s.logger.WithError(err).Warn("skipping malformed event source line")
			}
			continue
		}

		s.mu.Lock()
		last, seen := s.bookmark[event.Channel]
		skip := seen && !event.Time.After(last)
		if !skip {
			s.bookmark[event.Channel] = event.Time
		}
		s.mu.Unlock()
		if skip {
			continue
		}

		select {
		case out <- event:
		case <-ctx.Done():
			return offset + consumed, ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return offset, err
	}

	s.mu.Lock()
	bm := make(Bookmark, len(s.bookmark))
	for k, v := range s.bookmark {
		bm[k] = v
	}
	s.mu.Unlock()
	if err := saveBookmark(s.bookmarkPath, bm); err != nil && s.logger != nil {
		s.logger.WithError(err).Warn("failed to persist event source bookmark")
	}

	return offset + consumed, nil
}
