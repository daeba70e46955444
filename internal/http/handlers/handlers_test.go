package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/athenaai/athena/internal/domain"
	"github.com/athenaai/athena/internal/repo"
	"github.com/athenaai/athena/internal/services"
	"github.com/athenaai/athena/internal/utils"
)

type stubIdentity struct {
	res services.Resolution
	err error
}

func (s stubIdentity) ResolveDetailed(context.Context, string, string, string) (services.Resolution, error) {
	return s.res, s.err
}

type stubLinks struct{ err error }

func (s stubLinks) User(context.Context, string) (*domain.CanonicalUser, []domain.PlatformLink, error) {
	return nil, nil, s.err
}
func (s stubLinks) Link(context.Context, string, string, string) error { return s.err }

type stubLedger struct{ err error }

func (s stubLedger) LoadRecent(context.Context, string, int, string) (services.Page, error) {
	return services.Page{}, s.err
}

type stubBackfill struct {
	gotSize   int
	gotResume bool
	err       error
}

func (s *stubBackfill) Migrate(_ context.Context, n int) (services.Report, error) {
	s.gotSize = n
	return services.Report{Scanned: 3, Updated: 2, Completed: s.err == nil}, s.err
}

func (s *stubBackfill) Resume(_ context.Context, n int) (services.Report, error) {
	s.gotResume = true
	return s.Migrate(context.Background(), n)
}

func newRouter(h *Handlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/identities/resolve", h.ResolveIdentity)
	r.GET("/users/:id", h.GetUser)
	r.POST("/users/:id/links", h.LinkPlatform)
	r.GET("/users/:id/messages", h.ListMessages)
	r.POST("/backfill", h.RunBackfill)
	return r
}

func do(r http.Handler, method, path, body string, hdr ...string) *httptest.ResponseRecorder {
	var rd *bytes.Reader
	if body != "" {
		rd = bytes.NewReader([]byte(body))
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeErr(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e))
	return e
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{services.ErrInvalidIdentity, http.StatusBadRequest, ErrCodeInvalidIdentity},
		{utils.ErrBadCursor, http.StatusBadRequest, ErrCodeBadCursor},
		{services.ErrUserNotFound, http.StatusNotFound, ErrCodeUserNotFound},
		{services.ErrIdentityConflict, http.StatusConflict, ErrCodeIdentityConflict},
		{services.ErrBackfillRunning, http.StatusConflict, ErrCodeBackfillRunning},
		{fmt.Errorf("%w: tx: busy", services.ErrStoreUnavailable), http.StatusServiceUnavailable, ErrCodeStoreUnavailable},
		{errors.New("boom"), http.StatusInternalServerError, ErrCodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			h := New(stubIdentity{err: tc.err}, stubLinks{err: tc.err}, stubLedger{err: tc.err}, &stubBackfill{err: tc.err})
			r := newRouter(h)

			w := do(r, http.MethodGet, "/users/u1/messages", "")
			require.Equal(t, tc.status, w.Code)
			require.Equal(t, tc.code, decodeErr(t, w).Code)
		})
	}
}

func TestResolveIdentity_Validation(t *testing.T) {
	r := newRouter(New(stubIdentity{}, stubLinks{}, stubLedger{}, &stubBackfill{}))

	w := do(r, http.MethodPost, "/identities/resolve", `{"platform":"mobile"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, ErrCodeBadRequest, decodeErr(t, w).Code)

	w = do(r, http.MethodPost, "/identities/resolve", `not json`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunBackfill_OptionsAndConflict(t *testing.T) {
	bf := &stubBackfill{}
	h := New(stubIdentity{}, stubLinks{}, stubLedger{}, bf)
	h.DefaultPageSize = 250
	r := newRouter(h)

	w := do(r, http.MethodPost, "/backfill", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 250, bf.gotSize)
	require.False(t, bf.gotResume)

	var rep services.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rep))
	require.Equal(t, 2, rep.Updated)
	require.True(t, rep.Completed)

	w = do(r, http.MethodPost, "/backfill", `{"page_size":50,"resume":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 50, bf.gotSize)
	require.True(t, bf.gotResume)

	w = do(r, http.MethodPost, "/backfill", `{"page_size":0}`)
	require.Equal(t, http.StatusOK, w.Code, "zero means default")

	w = do(r, http.MethodPost, "/backfill", `{"page_size":100000}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	bf.err = services.ErrBackfillRunning
	w = do(r, http.MethodPost, "/backfill", "")
	require.Equal(t, http.StatusConflict, w.Code)
	require.Equal(t, ErrCodeBackfillRunning, decodeErr(t, w).Code)
}

// The remaining tests run the handlers over the real services and a
// temporary SQLite database.

func newRealRouter(t *testing.T) (*gin.Engine, *services.Ledger) {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	require.NoError(t, repo.AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	store := services.GormIdentityStore{DB: db}
	retry := services.DefaultRetryPolicy()
	ledger := services.NewLedger(db)
	h := New(
		services.NewIdentityResolver(store, retry, nil),
		services.NewPlatformLinker(store, db, retry),
		ledger,
		services.NewBackfill(services.GormBackfillStore{DB: db}),
	)
	return newRouter(h), ledger
}

func TestIdentityFlow_ResolveLinkGet(t *testing.T) {
	r, _ := newRealRouter(t)

	w := do(r, http.MethodPost, "/identities/resolve", `{"platform":"Discord","platform_user_id":"U1","display_name":"Alice"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var first ResolveIdentityResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))
	require.Equal(t, "created", first.Path)

	w = do(r, http.MethodPost, "/identities/resolve", `{"platform":"discord","platform_user_id":"U1"}`)
	var again ResolveIdentityResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &again))
	require.Equal(t, first.CanonicalUserID, again.CanonicalUserID)
	require.Equal(t, "fast", again.Path)

	w = do(r, http.MethodPost, "/users/"+first.CanonicalUserID+"/links", `{"platform":"mobile","platform_user_id":"dev-1"}`)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = do(r, http.MethodGet, "/users/"+first.CanonicalUserID, "")
	require.Equal(t, http.StatusOK, w.Code)
	var user UserResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &user))
	require.Equal(t, "Alice", user.User.DisplayName)
	require.Len(t, user.Links, 2)

	// A second user cannot take over the mobile identity.
	w = do(r, http.MethodPost, "/identities/resolve", `{"platform":"discord","platform_user_id":"U2"}`)
	var other ResolveIdentityResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &other))
	w = do(r, http.MethodPost, "/users/"+other.CanonicalUserID+"/links", `{"platform":"mobile","platform_user_id":"dev-1"}`)
	require.Equal(t, http.StatusConflict, w.Code)

	w = do(r, http.MethodGet, "/users/nope", "")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestListMessages_PagingAndETag(t *testing.T) {
	r, ledger := newRealRouter(t)
	ctx := context.Background()

	w := do(r, http.MethodPost, "/identities/resolve", `{"platform":"discord","platform_user_id":"U1"}`)
	var res ResolveIdentityResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		reply := fmt.Sprintf("r%d", i)
		_, err := ledger.Append(ctx, services.AppendInput{
			CanonicalUserID: res.CanonicalUserID,
			Platform:        "discord",
			PlatformUserID:  "U1",
			Text:            fmt.Sprintf("m%d", i),
			Response:        &reply,
			SourceTimestamp: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	w = do(r, http.MethodGet, "/users/"+res.CanonicalUserID+"/messages?limit=3", "")
	require.Equal(t, http.StatusOK, w.Code)
	var page ListMessagesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Messages, 3)
	require.Equal(t, []string{"m2", "m3", "m4"}, texts(page.Messages))
	require.NotEmpty(t, page.NextCursor)

	etag := w.Header().Get("ETag")
	require.NotEmpty(t, etag)
	w = do(r, http.MethodGet, "/users/"+res.CanonicalUserID+"/messages?limit=3", "", "If-None-Match", etag)
	require.Equal(t, http.StatusNotModified, w.Code)

	w = do(r, http.MethodGet, "/users/"+res.CanonicalUserID+"/messages?limit=3&cursor="+page.NextCursor, "")
	require.Equal(t, http.StatusOK, w.Code)
	var older ListMessagesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &older))
	require.Equal(t, []string{"m0", "m1"}, texts(older.Messages))
	require.Empty(t, older.NextCursor)

	w = do(r, http.MethodGet, "/users/"+res.CanonicalUserID+"/messages?cursor=not-a-cursor", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func texts(ms []domain.Message) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.Text
	}
	return out
}
