package log

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const filePrefix = "easycicd-"
const fileSuffix = ".jsonl"
const dayFormat = "2006-01-02"

// RotatingWriter appends to easycicd-YYYY-MM-DD.jsonl under its
// directory, switching files when the day changes. The file is opened on
// first write, so a misconfigured directory surfaces as dropped records
// rather than a failed startup, and files older than the retention
// window are pruned as part of each rotation.
type RotatingWriter struct {
	dir           string
	retentionDays int

	mu   sync.Mutex
	file *os.File
	day  string
}

// NewRotatingWriter creates a writer rooted at dir.
func NewRotatingWriter(dir string, retentionDays int) *RotatingWriter {
	return &RotatingWriter{dir: dir, retentionDays: retentionDays}
}

// Write implements io.Writer.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	today := time.Now().Format(dayFormat)
	if w.file == nil || today != w.day {
		if err := w.openLocked(today); err != nil {
			return 0, err
		}
	}
	return w.file.Write(p)
}

// Close closes the current file. A later Write reopens.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	w.day = ""
	return err
}

func (w *RotatingWriter) openLocked(today string) error {
	if w.file != nil {
		w.file.Close()
		w.file = nil
	}
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return err
	}

	f, err := os.OpenFile(
		filepath.Join(w.dir, filePrefix+today+fileSuffix),
		os.O_CREATE|os.O_APPEND|os.O_WRONLY,
		0644,
	)
	if err != nil {
		return err
	}
	w.file = f
	w.day = today

	w.pruneLocked(today)
	return nil
}

// pruneLocked deletes rotated files outside the retention window. The
// cutoff compares day stamps lexically, which is safe for the fixed
// date format.
func (w *RotatingWriter) pruneLocked(today string) {
	if w.retentionDays <= 0 {
		return
	}
	cutoffDay, err := time.Parse(dayFormat, today)
	if err != nil {
		return
	}
	cutoff := cutoffDay.AddDate(0, 0, -w.retentionDays).Format(dayFormat)

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		day, ok := strings.CutPrefix(entry.Name(), filePrefix)
		if !ok {
			continue
		}
		day, ok = strings.CutSuffix(day, fileSuffix)
		if !ok || len(day) != len(dayFormat) {
			continue
		}
		if day < cutoff {
			os.Remove(filepath.Join(w.dir, entry.Name()))
		}
	}
}
