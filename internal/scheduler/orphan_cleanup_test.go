package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-noticeboard/internal/blobstore"
	"github.com/oszuidwest/zwfm-noticeboard/internal/database/dbtest"
	"github.com/oszuidwest/zwfm-noticeboard/internal/models"
	"github.com/oszuidwest/zwfm-noticeboard/internal/repository"
)

func saveAged(t *testing.T, store *blobstore.Disk, dir, name string, age time.Duration) string {
	t.Helper()

	path, err := store.Save(context.Background(), name, strings.NewReader("payload of "+name))
	require.NoError(t, err)

	when := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(filepath.Join(dir, name), when, when))
	return path
}

func TestSweepRemovesOnlyOldUnreferencedFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := blobstore.NewDisk(dir, "uploads")
	require.NoError(t, err)
	notices := repository.NewNoticeRepository(dbtest.NewSQLite(t))
	ctx := context.Background()

	kept := saveAged(t, store, dir, "kept.png", time.Hour)
	orphan := saveAged(t, store, dir, "orphan.png", time.Hour)
	fresh := saveAged(t, store, dir, "fresh.png", time.Minute)

	_, err = notices.Insert(ctx, models.NoticeInsert{Title: "Kept", FilePath: kept, FileType: "png", Department: "cs"})
	require.NoError(t, err)

	svc := NewOrphanCleanupService(store, notices, time.Hour, 10*time.Minute)
	result, err := svc.Sweep(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Scanned)
	assert.Equal(t, 1, result.Removed)
	assert.Equal(t, int64(len("payload of orphan.png")), result.BytesFreed)

	for path, want := range map[string]bool{kept: true, orphan: false, fresh: true} {
		exists, err := store.Exists(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, want, exists, path)
	}
}

type failingRefs struct{}

func (failingRefs) IsFileReferenced(context.Context, string) (bool, error) {
	return false, errors.New("database unavailable")
}

func TestSweepKeepsFilesWhenReferencesCannotBeChecked(t *testing.T) {
	dir := t.TempDir()
	store, err := blobstore.NewDisk(dir, "uploads")
	require.NoError(t, err)
	path := saveAged(t, store, dir, "old.pdf", 2*time.Hour)

	svc := NewOrphanCleanupService(store, failingRefs{}, time.Hour, 10*time.Minute)
	result, err := svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Removed)

	exists, err := store.Exists(context.Background(), path)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestDisabledServiceStartsAndStops(t *testing.T) {
	store, err := blobstore.NewDisk(t.TempDir(), "uploads")
	require.NoError(t, err)

	svc := NewOrphanCleanupService(store, failingRefs{}, 0, time.Minute)
	svc.Start()
	svc.Stop()
	svc.Stop()
}

func TestStartRunsImmediately(t *testing.T) {
	dir := t.TempDir()
	store, err := blobstore.NewDisk(dir, "uploads")
	require.NoError(t, err)
	notices := repository.NewNoticeRepository(dbtest.NewSQLite(t))
	path := saveAged(t, store, dir, "stale.mp3", 3*time.Hour)

	svc := NewOrphanCleanupService(store, notices, time.Hour, 10*time.Minute)
	svc.Start()
	defer svc.Stop()

	exists, err := store.Exists(context.Background(), path)
	require.NoError(t, err)
	assert.False(t, exists)
}
