package services

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-noticeboard/internal/apperrors"
	"github.com/oszuidwest/zwfm-noticeboard/internal/blobstore"
	"github.com/oszuidwest/zwfm-noticeboard/internal/broadcast"
	"github.com/oszuidwest/zwfm-noticeboard/internal/config"
	"github.com/oszuidwest/zwfm-noticeboard/internal/database/dbtest"
	"github.com/oszuidwest/zwfm-noticeboard/internal/models"
	"github.com/oszuidwest/zwfm-noticeboard/internal/repository"
)

var (
	admin  = models.Caller{UserID: 1, Username: "admin", Role: models.RoleAdmin}
	viewer = models.Caller{UserID: 2, Username: "screen", Role: models.RoleViewer}
	nobody = models.Caller{}
)

type roleGate struct{}

func (roleGate) IsAdmin(c models.Caller) bool {
	return c.Role == models.RoleAdmin
}

type memBlobs struct {
	mu         sync.Mutex
	files      map[string]string
	saveErr    error
	deleteErr  error
	deleteCall int
}

func newMemBlobs() *memBlobs {
	return &memBlobs{files: make(map[string]string)}
}

func (m *memBlobs) Save(_ context.Context, name string, r io.Reader) (string, error) {
	if m.saveErr != nil {
		return "", m.saveErr
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	path := "uploads/" + name
	m.files[path] = string(body)
	return path, nil
}

func (m *memBlobs) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCall++
	if m.deleteErr != nil {
		return m.deleteErr
	}
	if _, ok := m.files[path]; !ok {
		return blobstore.ErrBlobNotFound
	}
	delete(m.files, path)
	return nil
}

func (m *memBlobs) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.files)
}

type recordingPublisher struct {
	mu        sync.Mutex
	snapshots [][]models.Notice
}

func (p *recordingPublisher) Publish(notices []models.Notice) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshots = append(p.snapshots, notices)
	return 1
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.snapshots)
}

type fixture struct {
	svc   *NoticeService
	repo  repository.NoticeRepository
	blobs *memBlobs
	pub   *recordingPublisher
}

func newFixture(t *testing.T, opts NoticeOptions) *fixture {
	f := &fixture{
		repo:  repository.NewNoticeRepository(dbtest.NewSQLite(t)),
		blobs: newMemBlobs(),
		pub:   &recordingPublisher{},
	}
	f.svc = NewNoticeService(f.repo, f.blobs, f.pub, roleGate{}, opts)
	return f
}

func upload(title, department, filename string) CreateNoticeRequest {
	return CreateNoticeRequest{
		Title:      title,
		Department: department,
		Filename:   filename,
		Content:    strings.NewReader("content of " + filename),
	}
}

func TestCreateNoticeAppearsFirstExactlyOnce(t *testing.T) {
	f := newFixture(t, NoticeOptions{RequireDepartment: true})
	ctx := context.Background()

	_, err := f.svc.CreateNotice(ctx, admin, upload("Older", "cs", "older.png"))
	require.NoError(t, err)
	created, err := f.svc.CreateNotice(ctx, admin, upload("Newer", " CS ", "newer.PNG"))
	require.NoError(t, err)

	assert.Equal(t, "cs", created.Department)
	assert.Equal(t, "png", created.FileType)
	assert.True(t, strings.HasPrefix(created.FilePath, "uploads/"))
	assert.True(t, strings.HasSuffix(created.FilePath, "_newer.PNG"))

	all, err := f.svc.ListNotices(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, created.ID, all[0].ID)

	matches := 0
	for _, n := range all {
		if n.ID == created.ID {
			matches++
		}
	}
	assert.Equal(t, 1, matches)

	require.Equal(t, 2, f.pub.count())
	assert.Equal(t, created.ID, f.pub.snapshots[1][0].ID, "broadcast carries the full list, newest first")
	assert.Len(t, f.pub.snapshots[1], 2)
}

func TestCreateNoticeRejectsInvalidInputWithoutSideEffects(t *testing.T) {
	tests := []struct {
		name  string
		req   CreateNoticeRequest
		code  *apperrors.Error
		field string
	}{
		{"blank title", upload("  ", "cs", "a.png"), apperrors.ErrMissingField, "title"},
		{"no file", CreateNoticeRequest{Title: "t", Department: "cs"}, apperrors.ErrMissingField, "file"},
		{"blank department", upload("t", " ", "a.png"), apperrors.ErrMissingField, "department"},
		{"executable", upload("t", "cs", "notice.exe"), apperrors.ErrUnsupportedFileType, "file"},
		{"no extension", upload("t", "cs", "notice"), apperrors.ErrUnsupportedFileType, "file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, NoticeOptions{RequireDepartment: true})

			_, err := f.svc.CreateNotice(context.Background(), admin, tt.req)
			require.ErrorIs(t, err, tt.code)

			var appErr *apperrors.Error
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, tt.field, appErr.Field)

			assertUntouched(t, f)
		})
	}
}

func TestCreateNoticeRejectsOverlongFields(t *testing.T) {
	f := newFixture(t, NoticeOptions{RequireDepartment: true})
	ctx := context.Background()

	tests := []struct {
		name  string
		req   CreateNoticeRequest
		field string
	}{
		{"title", upload(strings.Repeat("t", MaxTitleLength+1), "cs", "a.png"), "title"},
		{"department", upload("t", strings.Repeat("d", MaxDepartmentLength+1), "a.png"), "department"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateNotice(ctx, admin, tt.req)
			require.ErrorIs(t, err, apperrors.ErrMissingField)

			var appErr *apperrors.Error
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, tt.field, appErr.Field)
		})
	}
	assertUntouched(t, f)

	// Limits count characters, not bytes
	_, err := f.svc.CreateNotice(ctx, admin, upload(strings.Repeat("é", MaxTitleLength), "cs", "a.png"))
	assert.NoError(t, err)
}

func TestMapRepoErrorDataTooLong(t *testing.T) {
	err := MapRepoError("NoticeService.CreateNotice", repository.ErrDataTooLong, "notice")

	assert.ErrorIs(t, err, apperrors.ErrMissingField)
	assert.NotErrorIs(t, err, apperrors.ErrStorage)
}

func TestCreateNoticeWithoutDepartmentInSingleFeedMode(t *testing.T) {
	f := newFixture(t, NoticeOptions{RequireDepartment: false})

	n, err := f.svc.CreateNotice(context.Background(), admin, upload("Lunch menu", "", "menu.txt"))
	require.NoError(t, err)
	assert.Empty(t, n.Department)
}

func TestUnauthorizedMutationsHaveNoEffect(t *testing.T) {
	f := newFixture(t, NoticeOptions{RequireDepartment: true})
	ctx := context.Background()

	_, err := f.svc.CreateNotice(ctx, nobody, upload("t", "cs", "a.png"))
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)

	_, err = f.svc.CreateNotice(ctx, viewer, upload("t", "cs", "a.png"))
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	assertUntouched(t, f)

	existing, err := f.svc.CreateNotice(ctx, admin, upload("keep", "cs", "keep.png"))
	require.NoError(t, err)
	published := f.pub.count()

	assert.ErrorIs(t, f.svc.DeleteNotice(ctx, nobody, existing.ID), apperrors.ErrUnauthorized)
	err = f.svc.DeleteNotice(ctx, viewer, existing.ID)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	_, err = f.svc.GetNotice(ctx, existing.ID)
	assert.NoError(t, err)
	assert.Equal(t, 1, f.blobs.count())
	assert.Equal(t, published, f.pub.count())
}

func TestCreateNoticeBlobFailure(t *testing.T) {
	f := newFixture(t, NoticeOptions{RequireDepartment: true})
	f.blobs.saveErr = errors.New("disk full")

	_, err := f.svc.CreateNotice(context.Background(), admin, upload("t", "cs", "a.png"))
	require.ErrorIs(t, err, apperrors.ErrStorage)

	var appErr *apperrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.NotContains(t, appErr.Message, "disk full")
	assert.Contains(t, appErr.Internal, "disk full")

	assertUntouched(t, f)
}

type failingInsertRepo struct {
	repository.NoticeRepository
}

func (failingInsertRepo) Insert(context.Context, models.NoticeInsert) (*models.Notice, error) {
	return nil, errors.New("database is locked")
}

func TestCreateNoticeInsertFailureRemovesBlob(t *testing.T) {
	f := newFixture(t, NoticeOptions{RequireDepartment: true})
	f.svc = NewNoticeService(failingInsertRepo{f.repo}, f.blobs, f.pub, roleGate{}, NoticeOptions{RequireDepartment: true})

	_, err := f.svc.CreateNotice(context.Background(), admin, upload("t", "cs", "a.png"))
	require.ErrorIs(t, err, apperrors.ErrStorage)

	assert.Equal(t, 1, f.blobs.deleteCall)
	assertUntouched(t, f)
}

func TestDeleteNotice(t *testing.T) {
	f := newFixture(t, NoticeOptions{RequireDepartment: true})
	ctx := context.Background()

	n, err := f.svc.CreateNotice(ctx, admin, upload("Exam Schedule", "cs", "exam.pdf"))
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteNotice(ctx, admin, n.ID))

	_, err = f.svc.GetNotice(ctx, n.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	all, err := f.svc.ListNotices(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Zero(t, f.blobs.count())

	require.Equal(t, 2, f.pub.count())
	assert.Empty(t, f.pub.snapshots[1])

	err = f.svc.DeleteNotice(ctx, admin, n.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Equal(t, 2, f.pub.count(), "failed delete does not broadcast")
}

func TestDeleteNoticeWithMissingBlobSucceeds(t *testing.T) {
	f := newFixture(t, NoticeOptions{RequireDepartment: true})
	ctx := context.Background()

	n, err := f.svc.CreateNotice(ctx, admin, upload("t", "cs", "a.png"))
	require.NoError(t, err)
	delete(f.blobs.files, n.FilePath)

	assert.NoError(t, f.svc.DeleteNotice(ctx, admin, n.ID))
}

func TestDeleteNoticeBlobFailurePolicy(t *testing.T) {
	for _, tc := range []struct {
		policy  config.BlobDeletePolicy
		wantErr bool
	}{
		{config.BlobDeleteIgnore, false},
		{config.BlobDeleteReport, true},
	} {
		t.Run(string(tc.policy), func(t *testing.T) {
			f := newFixture(t, NoticeOptions{RequireDepartment: true, BlobDeletePolicy: tc.policy})
			ctx := context.Background()

			n, err := f.svc.CreateNotice(ctx, admin, upload("t", "cs", "a.png"))
			require.NoError(t, err)
			f.blobs.deleteErr = errors.New("permission denied")

			err = f.svc.DeleteNotice(ctx, admin, n.ID)
			if tc.wantErr {
				assert.ErrorIs(t, err, apperrors.ErrStorage)
			} else {
				assert.NoError(t, err)
			}

			_, err = f.svc.GetNotice(ctx, n.ID)
			assert.ErrorIs(t, err, apperrors.ErrNotFound, "row is gone either way")
		})
	}
}

func TestListNoticesDepartmentIsCaseInsensitive(t *testing.T) {
	f := newFixture(t, NoticeOptions{RequireDepartment: true})
	ctx := context.Background()

	_, err := f.svc.CreateNotice(ctx, admin, upload("a", "CS", "a.png"))
	require.NoError(t, err)
	_, err = f.svc.CreateNotice(ctx, admin, upload("b", "math", "b.png"))
	require.NoError(t, err)

	for _, dept := range []string{"cs", "CS", "Cs"} {
		got, err := f.svc.ListNotices(ctx, &dept)
		require.NoError(t, err)
		require.Len(t, got, 1, dept)
		assert.Equal(t, "a", got[0].Title)
	}

	departments, err := f.svc.Departments(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"cs", "math"}, departments)
}

// feed is a broadcast.Connection collecting snapshots.
type feed chan broadcast.Snapshot

func (f feed) Send(_ context.Context, s broadcast.Snapshot) error {
	f <- s
	return nil
}

func (f feed) next(t *testing.T) broadcast.Snapshot {
	t.Helper()
	select {
	case s := <-f:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return broadcast.Snapshot{}
	}
}

func TestExamScheduleScenario(t *testing.T) {
	repo := repository.NewNoticeRepository(dbtest.NewSQLite(t))
	hub := broadcast.NewHub(repo)
	defer hub.Close()
	svc := NewNoticeService(repo, newMemBlobs(), hub, roleGate{}, NoticeOptions{RequireDepartment: true})
	ctx := context.Background()

	cs, math, all := make(feed, 8), make(feed, 8), make(feed, 8)
	csDept, mathDept := "cs", "math"
	for conn, dept := range map[feed]*string{cs: &csDept, math: &mathDept, all: nil} {
		_, err := hub.Subscribe(ctx, conn, dept)
		require.NoError(t, err)
		assert.Empty(t, conn.next(t).Notices)
	}

	n, err := svc.CreateNotice(ctx, admin, upload("Exam Schedule", "CS", "Exam Schedule.pdf"))
	require.NoError(t, err)

	got := cs.next(t)
	require.Len(t, got.Notices, 1)
	assert.Equal(t, "Exam Schedule", got.Notices[0].Title)
	assert.Equal(t, "cs", got.Notices[0].Department)
	assert.Equal(t, "pdf", got.Notices[0].FileType)
	assert.Empty(t, math.next(t).Notices)
	assert.Len(t, all.next(t).Notices, 1)

	feedList, err := svc.ListNotices(ctx, &csDept)
	require.NoError(t, err)
	require.Len(t, feedList, 1)
	assert.Equal(t, n.ID, feedList[0].ID)

	require.NoError(t, svc.DeleteNotice(ctx, admin, n.ID))
	assert.Empty(t, cs.next(t).Notices)
	assert.Empty(t, all.next(t).Notices)
}

func assertUntouched(t *testing.T, f *fixture) {
	t.Helper()
	all, err := f.repo.List(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, all, "no row")
	assert.Zero(t, f.blobs.count(), "no blob")
	assert.Zero(t, f.pub.count(), "no broadcast")
}
