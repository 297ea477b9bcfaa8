package contextmgr

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog/log"
)

const (
	SummaryFileName = ".companion-summary.md"
	StateFileName   = ".companion-state.md"

	lockWaitTimeout = 2 * time.Second
)

// Files is the read/write gateway for the two context-persistence
// artifacts (spec.md §3 "Context files"). Writes are whole-file overwrites
// made under an advisory gofrs/flock lock on a sibling ".lock" file when
// that lock can be taken within lockWaitTimeout, and without it otherwise;
// reads and size checks never take the lock. Reads tolerate non-existence
// and any other failure by yielding empty content, per spec.md §5/§7.
type Files struct {
	dir string
}

// NewFiles builds a Files gateway rooted at dir (CONTEXT_DIR).
func NewFiles(dir string) *Files {
	return &Files{dir: dir}
}

func (f *Files) summaryPath() string { return filepath.Join(f.dir, SummaryFileName) }
func (f *Files) statePath() string   { return filepath.Join(f.dir, StateFileName) }

// SummaryPath / StatePath expose the absolute paths for instruction blocks
// that tell the agent where to write.
func (f *Files) SummaryPath() string { return f.summaryPath() }
func (f *Files) StatePath() string   { return f.statePath() }

// ReadSummary / ReadState best-effort read the two files; any error
// (including non-existence) yields empty content.
func (f *Files) ReadSummary() string { return f.readBestEffort(f.summaryPath()) }
func (f *Files) ReadState() string   { return f.readBestEffort(f.statePath()) }

func (f *Files) readBestEffort(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

// WriteSummary / WriteState overwrite the two files whole, logging and
// swallowing any failure (spec.md §5, §7). Only tests call these; in
// normal operation the downstream agent is the one that writes the files, per the
// post-response-instruction design (spec.md §4.B).
func (f *Files) WriteSummary(content string) { f.writeBestEffort(f.summaryPath(), content) }
func (f *Files) WriteState(content string)   { f.writeBestEffort(f.statePath(), content) }

func (f *Files) writeBestEffort(path, content string) {
	ctx, cancel := context.WithTimeout(context.Background(), lockWaitTimeout)
	defer cancel()

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLockContext(ctx, 50*time.Millisecond)
	if err == nil && locked {
		defer lock.Unlock()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.Warn().Str("component", "context").Str("path", path).Err(err).Msg("failed to create context dir")
		return
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		log.Warn().Str("component", "context").Str("path", path).Err(err).Msg("failed to write context file")
	}
}

// SummarySizeBytes / StateSizeBytes report the on-disk size of each file,
// 0 if absent, for the !bridge status diagnostics.
func (f *Files) SummarySizeBytes() int64 { return sizeOf(f.summaryPath()) }
func (f *Files) StateSizeBytes() int64   { return sizeOf(f.statePath()) }

func sizeOf(path string) int64 {
	st, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return st.Size()
}
