package config

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"
)

var _ = Describe("FileWatcher", func() {
	var (
		dir    string
		path   string
		logger *logrus.Logger
		fw     *FileWatcher
	)

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "sentineld-hotreload-*")
		Expect(err).ToNot(HaveOccurred())

		path = filepath.Join(dir, "config.yaml")
		Expect(os.WriteFile(path, []byte(validYAML), 0o644)).To(Succeed())

		logger = logrus.New()
		logger.SetLevel(logrus.FatalLevel)

		fw, err = NewFileWatcher(path, logger)
		Expect(err).ToNot(HaveOccurred())
	})

	AfterEach(func() {
		if fw != nil {
			Expect(fw.Stop()).To(Succeed())
		}
		Expect(os.RemoveAll(dir)).To(Succeed())
	})

	It("serves the initially loaded configuration", func() {
		Expect(fw.Current().Pipeline.MaxInFlight).To(Equal(8))
	})

	It("reloads the configuration when the file changes", func() {
		updated := validYAML
		updated = replaceOnce(updated, "maxInFlight: 8", "maxInFlight: 16")
		Expect(os.WriteFile(path, []byte(updated), 0o644)).To(Succeed())

		Eventually(func() int {
			return fw.Current().Pipeline.MaxInFlight
		}, 3*time.Second, 50*time.Millisecond).Should(Equal(16))
	})

	It("retains the previous configuration when the new file is invalid", func() {
		Expect(os.WriteFile(path, []byte("not: [valid"), 0o644)).To(Succeed())

		Consistently(func() int {
			return fw.Current().Pipeline.MaxInFlight
		}, 500*time.Millisecond, 50*time.Millisecond).Should(Equal(8))
	})
})

func replaceOnce(s, old, new string) string {
	i := indexOfSubstr(s, old)
	if i < 0 {
		return s
	}
	return s[:i] + new + s[i+len(old):]
}

func indexOfSubstr(s, sub string) int {
	n, m := len(s), len(sub)
	for i := 0; i+m <= n; i++ {
		if s[i:i+m] == sub {
			return i
		}
	}
	return -1
}
