// Package scheduler provides background maintenance jobs for the noticeboard.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-noticeboard/internal/blobstore"
	"github.com/oszuidwest/zwfm-noticeboard/pkg/logger"
)

// sweepTimeout bounds a single sweep.
const sweepTimeout = 5 * time.Minute

// BlobLister is the part of the blob store the sweeper needs.
type BlobLister interface {
	Walk(ctx context.Context, fn func(blobstore.Info) error) error
	Delete(ctx context.Context, path string) error
}

// ReferenceChecker reports whether a notice still points at a stored file.
type ReferenceChecker interface {
	IsFileReferenced(ctx context.Context, path string) (bool, error)
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Scanned    int
	Removed    int
	BytesFreed int64
}

// OrphanCleanupService periodically deletes stored files that no notice
// references. Such files are left behind when a notice insert or a blob
// delete fails halfway.
type OrphanCleanupService struct {
	blobs    BlobLister
	notices  ReferenceChecker
	interval time.Duration
	grace    time.Duration
	now      func() time.Time

	// ticker controls the execution schedule
	ticker *time.Ticker
	// done channel enables graceful shutdown signaling
	done chan bool
	// stopOnce ensures Stop() can only be called once
	stopOnce sync.Once
}

// NewOrphanCleanupService creates the sweeper. Files younger than grace are
// never touched, so uploads whose notice is still being inserted survive.
// An interval of zero disables the periodic run.
func NewOrphanCleanupService(blobs BlobLister, notices ReferenceChecker, interval, grace time.Duration) *OrphanCleanupService {
	return &OrphanCleanupService{
		blobs:    blobs,
		notices:  notices,
		interval: interval,
		grace:    grace,
		now:      time.Now,
		done:     make(chan bool),
	}
}

// Start runs a sweep immediately and then every interval in the background.
// The service can be stopped with [OrphanCleanupService.Stop].
func (s *OrphanCleanupService) Start() {
	if s.interval <= 0 {
		logger.Info("Orphan file cleanup disabled")
		return
	}
	logger.Info("Starting orphan file cleanup service (every %s, grace %s)", s.interval, s.grace)

	s.runOnce()

	s.ticker = time.NewTicker(s.interval)
	go func() {
		for {
			select {
			case <-s.ticker.C:
				s.runOnce()
			case <-s.done:
				return
			}
		}
	}()
}

// Stop gracefully shuts down the cleanup service.
func (s *OrphanCleanupService) Stop() {
	s.stopOnce.Do(func() {
		if s.ticker == nil {
			return
		}
		logger.Info("Stopping orphan file cleanup service")
		select {
		case s.done <- true:
		case <-time.After(5 * time.Second):
			logger.Info("Orphan file cleanup service shutdown timeout")
		}
		s.ticker.Stop()
	})
}

func (s *OrphanCleanupService) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	result, err := s.Sweep(ctx)
	if err != nil {
		logger.Error("Orphan file cleanup failed after %d files: %v", result.Scanned, err)
		return
	}
	if result.Removed > 0 {
		logger.Info("Orphan file cleanup complete: %d of %d files removed (%.1f MB freed)",
			result.Removed, result.Scanned, float64(result.BytesFreed)/1024/1024)
	} else {
		logger.Debug("Orphan file cleanup complete: %d files scanned, none orphaned", result.Scanned)
	}
}

// Sweep deletes every file older than the grace period that no notice references.
// A file that cannot be checked or removed is logged and skipped.
func (s *OrphanCleanupService) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	cutoff := s.now().Add(-s.grace)

	err := s.blobs.Walk(ctx, func(info blobstore.Info) error {
		result.Scanned++
		if info.ModTime.After(cutoff) {
			return nil
		}

		referenced, err := s.notices.IsFileReferenced(ctx, info.Path)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			logger.Error("Failed to check references for %s: %v", info.Path, err)
			return nil
		}
		if referenced {
			return nil
		}

		if err := s.blobs.Delete(ctx, info.Path); err != nil && !errors.Is(err, blobstore.ErrBlobNotFound) {
			logger.Error("Failed to remove orphaned file %s: %v", info.Path, err)
			return nil
		}
		logger.Debug("Removed orphaned file %s", info.Path)
		result.Removed++
		result.BytesFreed += info.Size
		return nil
	})
	return result, err
}
