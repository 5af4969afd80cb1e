package source

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sentineld/sentineld/pkg/types"
)

func writeLine(t1 time.Time, f *os.File, channel string) {
	event := types.LogEvent{Channel: channel, Time: t1, Message: "m"}
	data, _ := json.Marshal(event)
	f.Write(data)
	f.Write([]byte("\n"))
}

var _ = Describe("NDJSONSource", func() {
	It("does not replay events already past a persisted bookmark", func() {
		dir, err := os.MkdirTemp("", "sentineld-source-*")
		Expect(err).ToNot(HaveOccurred())
		defer os.RemoveAll(dir)

		eventsPath := filepath.Join(dir, "events.ndjson")
		bookmarkPath := filepath.Join(dir, "bookmark.json")

		f, err := os.Create(eventsPath)
		Expect(err).ToNot(HaveOccurred())
		base := time.Now().Add(-time.Hour)
		writeLine(base, f, "Security")
		writeLine(base.Add(time.Minute), f, "Security")
		f.Close()

		Expect(saveBookmark(bookmarkPath, Bookmark{"Security": base})).To(Succeed())

		s := NewNDJSONSource(eventsPath, bookmarkPath, 10*time.Millisecond, nil)
		out := make(chan types.LogEvent, 10)
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		_ = s.Run(ctx, out)
		close(out)

		var received []types.LogEvent
		for e := range out {
			received = append(received, e)
		}
		Expect(received).To(HaveLen(1))
		Expect(received[0].Time).To(BeTemporally("~", base.Add(time.Minute), time.Second))
	})
})
