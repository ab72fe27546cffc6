package logging

import (
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

func TestObservedLogger(t *testing.T) {
	logger, observed := NewObservedTestLogger(t)

	logger.Infow("motor command applied", "name", "port", "thrust", 0.5)
	logger.Warnf("battery low: %.2fV", 11.2)

	test.That(t, observed.Len(), test.ShouldEqual, 2)
	test.That(t, observed.FilterMessageSnippet("battery low").Len(), test.ShouldEqual, 1)
}

func TestSublogger(t *testing.T) {
	logger, observed := NewObservedTestLogger(t)

	sub := logger.Sublogger("voltage")
	sub.Info("check passed")

	entries := observed.TakeAll()
	test.That(t, len(entries), test.ShouldEqual, 1)
	test.That(t, entries[0].LoggerName, test.ShouldEqual, t.Name()+".voltage")
}

func TestNewFileLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rovd.log")
	logger := NewFileLogger("rovd", path)

	logger.Info("first entry")
	// Stdout cannot always be synced, so the error is not asserted on; file
	// writes land without it.
	_ = logger.Sync()

	contents, err := os.ReadFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(contents), test.ShouldContainSubstring, "first entry")
}
