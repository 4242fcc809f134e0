package cleanup

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/downloadables/internal/logctx"
	"github.com/italolelis/downloadables/internal/telemetry"
)

// Result summarizes one cleanup pass.
type Result struct {
	Removed []string
	Freed   int64
	// Retained is the size of everything left in the directory.
	Retained int64
}

// DeleteUnreferencedFiles deletes files in dir that are not listed in keep and
// were last modified more than olderThan ago. keep holds slash separated paths
// relative to dir.
func DeleteUnreferencedFiles(ctx context.Context, dir string, keep []string, olderThan time.Duration) (Result, error) {
	logger := logctx.LoggerFromContext(ctx)
	now := time.Now()

	referenced := make(map[string]struct{}, len(keep))
	for _, name := range keep {
		referenced[filepath.ToSlash(filepath.Clean(name))] = struct{}{}
	}

	var res Result

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil // already deleted
			}

			return err
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}

			return err
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		if _, ok := referenced[filepath.ToSlash(rel)]; ok || now.Sub(info.ModTime()) <= olderThan {
			res.Retained += info.Size()

			return nil
		}

		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.ErrorContext(ctx, "failed to delete unreferenced file", "file", path, "err", err)

			return err
		}

		logger.InfoContext(ctx, "deleted unreferenced file", "file", path, "size", humanize.Bytes(uint64(info.Size())))

		res.Removed = append(res.Removed, filepath.ToSlash(rel))
		res.Freed += info.Size()

		return nil
	})

	return res, err
}

// KeepFunc returns the files that must survive a cleanup pass.
type KeepFunc func(ctx context.Context) ([]string, error)

// Cleaner periodically removes content no catalog references anymore.
type Cleaner struct {
	Dir       string
	Interval  time.Duration
	OlderThan time.Duration
	Keep      KeepFunc
	Telemetry *telemetry.Telemetry
}

// Run performs a pass every Interval until ctx is cancelled.
func (c *Cleaner) Run(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx).With("component", "cleanup")
	ctx = logctx.WithLogger(ctx, logger)

	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := c.RunOnce(ctx); err != nil {
				logger.ErrorContext(ctx, "cleanup pass failed", "err", err)
				c.Telemetry.RecordSystemError("cleanup", "pass")
			}
		}
	}
}

// RunOnce performs a single pass.
func (c *Cleaner) RunOnce(ctx context.Context) (Result, error) {
	keep, err := c.Keep(ctx)
	if err != nil {
		return Result{}, err
	}

	res, err := DeleteUnreferencedFiles(ctx, c.Dir, keep, c.OlderThan)
	if err != nil {
		return res, err
	}

	c.Telemetry.RecordContentDirSize(res.Retained)

	if len(res.Removed) > 0 {
		logctx.LoggerFromContext(ctx).InfoContext(ctx, "cleanup pass finished",
			"removed", len(res.Removed),
			"freed", humanize.Bytes(uint64(res.Freed)),
			"retained", humanize.Bytes(uint64(res.Retained)),
		)
	}

	return res, nil
}
