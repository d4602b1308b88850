package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-noticeboard/internal/api/handlers"
	"github.com/oszuidwest/zwfm-noticeboard/internal/auth"
	"github.com/oszuidwest/zwfm-noticeboard/internal/blobstore"
	"github.com/oszuidwest/zwfm-noticeboard/internal/broadcast"
	"github.com/oszuidwest/zwfm-noticeboard/internal/config"
	"github.com/oszuidwest/zwfm-noticeboard/internal/database/dbtest"
	"github.com/oszuidwest/zwfm-noticeboard/internal/models"
	"github.com/oszuidwest/zwfm-noticeboard/internal/repository"
	"github.com/oszuidwest/zwfm-noticeboard/internal/services"
	"github.com/oszuidwest/zwfm-noticeboard/internal/utils"
)

// pngBytes is enough of a PNG for content sniffing.
var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

func init() {
	gin.SetMode(gin.TestMode)
	utils.InitializeValidators()
}

type testBoard struct {
	router *gin.Engine
	hub    *broadcast.Hub
	admin  []*http.Cookie
	viewer []*http.Cookie
}

func newTestBoard(t *testing.T, mutate func(*config.Config)) *testBoard {
	t.Helper()

	cfg := config.Default()
	cfg.Storage.UploadPath = t.TempDir()
	cfg.Auth.SessionSecret = "test-session-secret-0123456789ab"
	cfg.Stream.HeartbeatInterval = 0
	if mutate != nil {
		mutate(cfg)
	}

	db := dbtest.NewSQLite(t)
	users := repository.NewUserRepository(db)
	notices := repository.NewNoticeRepository(db)

	blobs, err := blobstore.NewDisk(cfg.Storage.UploadPath, cfg.Storage.PublicPrefix)
	require.NoError(t, err)

	hub := broadcast.NewHub(notices)
	t.Cleanup(hub.Close)

	authSvc, err := auth.NewService(auth.NewConfig(cfg), users)
	require.NoError(t, err)

	userSvc := services.NewUserService(users)
	noticeSvc := services.NewNoticeService(notices, blobs, hub, authSvc, services.NoticeOptions{
		RequireDepartment: cfg.Notices.RequireDepartment,
		BlobDeletePolicy:  cfg.Notices.BlobDeletePolicy,
	})

	ctx := context.Background()
	_, err = userSvc.Create(ctx, "board", "Board Admin", "", "admin-password", models.RoleAdmin)
	require.NoError(t, err)
	_, err = userSvc.Create(ctx, "screen", "Hallway Screen", "", "viewer-password", models.RoleViewer)
	require.NoError(t, err)

	b := &testBoard{
		router: SetupRouter(Dependencies{
			Config:  cfg,
			Auth:    authSvc,
			Users:   users,
			UserSvc: userSvc,
			Notices: noticeSvc,
			Hub:     hub,
			Blobs:   blobs,
		}),
		hub: hub,
	}
	b.admin = b.login(t, "board", "admin-password")
	b.viewer = b.login(t, "screen", "viewer-password")
	return b
}

func (b *testBoard) login(t *testing.T, username, password string) []*http.Cookie {
	t.Helper()

	body, err := json.Marshal(map[string]string{"username": username, "password": password})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/session/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	b.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return w.Result().Cookies()
}

func (b *testBoard) do(req *http.Request, cookies []*http.Cookie) *httptest.ResponseRecorder {
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	b.router.ServeHTTP(w, req)
	return w
}

func uploadRequest(t *testing.T, fields map[string]string, filename string, content []byte) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/notices", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

type noticeList struct {
	Data  []handlers.NoticeResponse `json:"data"`
	Total int                       `json:"total"`
}

func TestHealth(t *testing.T) {
	b := newTestBoard(t, nil)

	w := b.do(httptest.NewRequest(http.MethodGet, "/health", nil), nil)
	require.Equal(t, http.StatusOK, w.Code)

	health := decode[handlers.HealthResponse](t, w)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "noticeboard", health.Service)
	assert.Equal(t, 0, health.Viewers)
}

func TestNoticeLifecycle(t *testing.T) {
	b := newTestBoard(t, nil)
	fields := map[string]string{"title": "Exam Schedule", "department": "CS"}

	w := b.do(uploadRequest(t, fields, "exam.png", pngBytes), nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))

	w = b.do(uploadRequest(t, fields, "exam.png", pngBytes), b.viewer)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = b.do(uploadRequest(t, fields, "exam.png", pngBytes), b.admin)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[handlers.NoticeResponse](t, w)
	assert.Equal(t, "/api/v1/notices/"+strconv.FormatInt(created.ID, 10), w.Header().Get("Location"))
	assert.Equal(t, "Exam Schedule", created.Title)
	assert.Equal(t, "cs", created.Department)
	assert.Equal(t, "png", created.FileType)
	assert.Equal(t, "image", string(created.MediaKind))
	assert.Equal(t, "/"+created.FilePath, created.FileURL)

	w = b.do(httptest.NewRequest(http.MethodGet, created.FileURL, nil), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, pngBytes, w.Body.Bytes())

	w = b.do(httptest.NewRequest(http.MethodGet, "/api/v1/notices", nil), nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[noticeList](t, w)
	require.Equal(t, 1, list.Total)
	assert.Equal(t, created.ID, list.Data[0].ID)

	for _, path := range []string{"/api/v1/notices?department=cs", "/api/v1/departments/CS/notices"} {
		w = b.do(httptest.NewRequest(http.MethodGet, path, nil), nil)
		assert.Equal(t, 1, decode[noticeList](t, w).Total, path)
	}
	w = b.do(httptest.NewRequest(http.MethodGet, "/api/v1/notices?department=hr", nil), nil)
	assert.Equal(t, 0, decode[noticeList](t, w).Total)

	w = b.do(httptest.NewRequest(http.MethodGet, "/api/v1/departments", nil), nil)
	departments := decode[struct {
		Data []string `json:"data"`
	}](t, w)
	assert.Equal(t, []string{"cs"}, departments.Data)

	path := "/api/v1/notices/" + strconv.FormatInt(created.ID, 10)
	assert.Equal(t, http.StatusUnauthorized, b.do(httptest.NewRequest(http.MethodDelete, path, nil), nil).Code)
	assert.Equal(t, http.StatusNoContent, b.do(httptest.NewRequest(http.MethodDelete, path, nil), b.admin).Code)
	assert.Equal(t, http.StatusNotFound, b.do(httptest.NewRequest(http.MethodGet, path, nil), nil).Code)
	assert.Equal(t, http.StatusNotFound, b.do(httptest.NewRequest(http.MethodDelete, path, nil), b.admin).Code)
	assert.Equal(t, http.StatusNotFound, b.do(httptest.NewRequest(http.MethodGet, created.FileURL, nil), nil).Code)
}

func TestCreateNoticeValidation(t *testing.T) {
	b := newTestBoard(t, nil)

	w := b.do(uploadRequest(t, map[string]string{"department": "cs"}, "a.png", pngBytes), b.admin)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	problem := decode[utils.ProblemDetail](t, w)
	require.Len(t, problem.Errors, 1)
	assert.Equal(t, "title", problem.Errors[0].Field)

	w = b.do(uploadRequest(t, map[string]string{"title": "t", "department": "cs"}, "", nil), b.admin)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "file", decode[utils.ProblemDetail](t, w).Errors[0].Field)

	w = b.do(uploadRequest(t, map[string]string{"title": "t", "department": "cs"}, "notice.exe", []byte("MZ")), b.admin)
	require.Equal(t, http.StatusBadRequest, w.Code)
	problem = decode[utils.ProblemDetail](t, w)
	assert.Equal(t, utils.ProblemTypeUnsupportedFileType, problem.Type)
	assert.Contains(t, problem.Detail, "pdf")

	w = b.do(httptest.NewRequest(http.MethodGet, "/api/v1/notices", nil), nil)
	assert.Equal(t, 0, decode[noticeList](t, w).Total)
}

func TestUploadTooLarge(t *testing.T) {
	b := newTestBoard(t, func(cfg *config.Config) {
		cfg.Storage.MaxUploadBytes = 1024
	})

	w := b.do(uploadRequest(t, map[string]string{"title": "t", "department": "cs"}, "big.txt", bytes.Repeat([]byte("x"), 4096)), b.admin)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, utils.ProblemTypePayloadTooLarge, decode[utils.ProblemDetail](t, w).Type)
}

func TestCurrentSession(t *testing.T) {
	b := newTestBoard(t, nil)

	assert.Equal(t, http.StatusUnauthorized, b.do(httptest.NewRequest(http.MethodGet, "/api/v1/session", nil), nil).Code)

	w := b.do(httptest.NewRequest(http.MethodGet, "/api/v1/session", nil), b.admin)
	require.Equal(t, http.StatusOK, w.Code)
	session := decode[handlers.SessionResponse](t, w)
	assert.Equal(t, "board", session.Username)
	assert.Equal(t, "local", session.AuthMethod)
	assert.True(t, session.CanPost)

	w = b.do(httptest.NewRequest(http.MethodGet, "/api/v1/session", nil), b.viewer)
	assert.False(t, decode[handlers.SessionResponse](t, w).CanPost)

	w = b.do(httptest.NewRequest(http.MethodGet, "/api/v1/auth/config", nil), nil)
	assert.Equal(t, []string{"local"}, decode[handlers.AuthConfigResponse](t, w).Methods)
}

func TestLoginRejections(t *testing.T) {
	b := newTestBoard(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/session/login", strings.NewReader(`{"username":"board","password":"nope"}`))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusUnauthorized, b.do(req, nil).Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/session/login", strings.NewReader(`{"username":"  ","password":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusUnprocessableEntity, b.do(req, nil).Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/session/login", strings.NewReader(`{`))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusBadRequest, b.do(req, nil).Code)
}

func TestCreateUserRequiresAdmin(t *testing.T) {
	b := newTestBoard(t, nil)
	body := `{"username":"desk","full_name":"Front Desk","password":"long-enough","role":"editor"}`

	newReq := func() *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/users", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		return req
	}

	assert.Equal(t, http.StatusUnauthorized, b.do(newReq(), nil).Code)
	assert.Equal(t, http.StatusForbidden, b.do(newReq(), b.viewer).Code)
	assert.Equal(t, http.StatusCreated, b.do(newReq(), b.admin).Code)
	assert.Equal(t, http.StatusConflict, b.do(newReq(), b.admin).Code)
}

// readEvents parses update_notices events from an SSE stream.
func readEvents(t *testing.T, body *bufio.Reader, out chan<- handlers.StreamEvent) {
	var event, data string
	for {
		line, err := body.ReadString('\n')
		if err != nil {
			close(out)
			return
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimPrefix(line, "event:")
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimPrefix(line, "data:")
		case line == "":
			if event == handlers.EventUpdateNotices {
				var ev handlers.StreamEvent
				if err := json.Unmarshal([]byte(data), &ev); err != nil {
					t.Errorf("bad event payload %q: %v", data, err)
				}
				out <- ev
			}
			event, data = "", ""
		}
	}
}

func nextEvent(t *testing.T, events <-chan handlers.StreamEvent) handlers.StreamEvent {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "stream closed")
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for update_notices")
		return handlers.StreamEvent{}
	}
}

func TestStreamPushesDepartmentSnapshots(t *testing.T) {
	b := newTestBoard(t, nil)
	srv := httptest.NewServer(b.router)
	defer srv.Close()

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{Jar: jar}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/stream?department=CS", nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, sse.ContentType, resp.Header.Get("Content-Type"))

	events := make(chan handlers.StreamEvent, 16)
	go readEvents(t, bufio.NewReader(resp.Body), events)

	initial := nextEvent(t, events)
	assert.Empty(t, initial.Notices)
	assert.Equal(t, 1, b.hub.Count())

	post := func(title, department, filename string) {
		w := b.do(uploadRequest(t, map[string]string{"title": title, "department": department}, filename, pngBytes), b.admin)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}

	post("Exam Schedule", "cs", "exam.png")
	ev := nextEvent(t, events)
	assert.Greater(t, ev.Seq, initial.Seq)
	require.Len(t, ev.Notices, 1)
	assert.Equal(t, "Exam Schedule", ev.Notices[0].Title)
	assert.Equal(t, "image", string(ev.Notices[0].MediaKind))

	post("Staff Party", "hr", "party.png")
	ev2 := nextEvent(t, events)
	assert.Greater(t, ev2.Seq, ev.Seq)
	require.Len(t, ev2.Notices, 1, "department viewer only sees its own notices")
	assert.Equal(t, "cs", ev2.Notices[0].Department)

	cancel()
	assert.Eventually(t, func() bool { return b.hub.Count() == 0 }, 3*time.Second, 10*time.Millisecond)
}
