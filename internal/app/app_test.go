package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"siteeditor/api/internal/archive"
	"siteeditor/api/internal/authpw"
	"siteeditor/api/internal/config"
	"siteeditor/api/internal/editflow"
	"siteeditor/api/internal/export"
	"siteeditor/api/internal/llm"
	"siteeditor/api/internal/notify"
	"siteeditor/api/internal/patch"
	"siteeditor/api/internal/search"
	"siteeditor/api/internal/session"
	"siteeditor/api/internal/store"
)

const (
	testSubject   = "sub_bakery"
	testInbound   = "inbound-secret"
	testPassword  = "correct-horse"
	bakeryPage    = `<h1>Rosa's Bakery</h1><p class="hours">Open 7am-3pm</p><p>Sourdough $8</p>`
	hoursAfterFix = `<h1>Rosa's Bakery</h1><p class="hours">Open 6am-2pm</p><p>Sourdough $8</p>`
)

type fixedTier struct {
	mu   sync.Mutex
	tier editflow.Tier
}

func (f *fixedTier) Classify(context.Context, string) (editflow.Tier, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tier, nil
}

func (f *fixedTier) set(tier editflow.Tier) {
	f.mu.Lock()
	f.tier = tier
	f.mu.Unlock()
}

// hoursProposer always proposes the same opening-hours change.
type hoursProposer struct{}

func (hoursProposer) Propose(context.Context, editflow.ProposalRequest) (editflow.ProposalResult, error) {
	return editflow.ProposalResult{
		Changes: []patch.Proposal{{Search: "Open 7am-3pm", Replace: "Open 6am-2pm"}},
		Summary: "Updated opening hours",
	}, nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []notify.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, note notify.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
	return nil
}

func (n *recordingNotifier) triggers() []notify.Trigger {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notify.Trigger, 0, len(n.notes))
	for _, note := range n.notes {
		out = append(out, note.Trigger)
	}
	return out
}

type fakePDF struct {
	mu  sync.Mutex
	err error
}

func (f *fakePDF) RenderPDF(context.Context, string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return []byte("%PDF-1.4 test"), nil
}

func (f *fakePDF) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

type testApp struct {
	store   *store.SQLStore
	service *Service
	server  *HTTPServer
	router  *editflow.Router
	tiers   *fixedTier
	notes   *recordingNotifier
	pdf     *fakePDF
	redis   *miniredis.Miniredis
	handler http.Handler
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	ctx := context.Background()

	db, err := store.Open(ctx, store.DialectSQLite, filepath.Join(t.TempDir(), "app.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, store.ApplyMigrations(ctx, db, store.DialectSQLite))
	st := store.NewSQLStore(db, store.DialectSQLite)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mr := miniredis.RunT(t)
	revocations, err := session.NewRedisStore("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = revocations.Close() })

	tiers := &fixedTier{tier: editflow.TierSimple}
	notes := &recordingNotifier{}
	versions := archive.New(st, 10, nil, logger)
	router := editflow.NewRouter(editflow.Config{
		Store:    st,
		Archive:  versions,
		Proposer: hoursProposer{},
		Tiers:    tiers,
		Replies:  llm.KeywordReplyClassifier{},
		Notifier: notes,
		Logger:   logger,
	})
	t.Cleanup(router.Wait)

	pdf := &fakePDF{}
	authSvc := authpw.NewService(st).WithCost(bcrypt.MinCost)
	cfg := config.Config{
		JWTSecret:    "test-secret",
		AccessTTL:    time.Hour,
		InboundToken: testInbound,
		CORSOrigin:   "*",
	}
	svc := New(cfg, Deps{
		Store:       st,
		Router:      router,
		Archive:     versions,
		Search:      search.NewService(nil, search.NewSQLFallback(st), logger),
		Export:      export.NewService(st, pdf),
		Auth:        authSvc,
		Revocations: revocations,
		Checks:      map[string]func(context.Context) error{"redis": revocations.Ping},
		Logger:      logger,
	})
	server := NewHTTPServer(svc, cfg.CORSOrigin)

	require.NoError(t, st.UpsertSubject(ctx, store.Subject{ID: testSubject, Name: "Rosa's Bakery", ContactEmail: "rosa@example.com"}))
	_, err = st.EnsureDocument(ctx, "doc_bakery", testSubject, bakeryPage)
	require.NoError(t, err)

	for _, role := range []string{"viewer", "reviewer", "admin"} {
		_, err := authSvc.CreateOperator(ctx, authpw.CreateRequest{
			Email:       role + "@example.com",
			Password:    testPassword,
			DisplayName: role,
			Role:        role,
		})
		require.NoError(t, err)
	}

	return &testApp{
		store:   st,
		service: svc,
		server:  server,
		router:  router,
		tiers:   tiers,
		notes:   notes,
		pdf:     pdf,
		redis:   mr,
		handler: server.Handler(),
	}
}

type response struct {
	Code int
	Body map[string]any
	Raw  string
}

func (a *testApp) do(t *testing.T, method, path, token string, body any, headers ...string) response {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, req)

	res := response{Code: rr.Code, Raw: rr.Body.String()}
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") && rr.Body.Len() > 0 {
		_ = json.Unmarshal(rr.Body.Bytes(), &res.Body)
	}
	return res
}

func (a *testApp) inbound(t *testing.T, text string) response {
	t.Helper()
	return a.do(t, http.MethodPost, "/api/inbound/messages", "",
		map[string]any{"subjectId": testSubject, "text": text},
		"X-Inbound-Token", testInbound)
}

func (a *testApp) login(t *testing.T, role string) string {
	t.Helper()
	res := a.do(t, http.MethodPost, "/api/operator/login", "", map[string]any{
		"email":    role + "@example.com",
		"password": testPassword,
	})
	require.Equal(t, http.StatusOK, res.Code, res.Raw)
	token, _ := res.Body["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func (a *testApp) document(t *testing.T) store.Document {
	t.Helper()
	doc, err := a.store.GetDocument(context.Background(), testSubject)
	require.NoError(t, err)
	return doc
}

func outcomeOf(t *testing.T, res response) map[string]any {
	t.Helper()
	require.Equal(t, http.StatusOK, res.Code, res.Raw)
	outcome, ok := res.Body["outcome"].(map[string]any)
	require.True(t, ok, res.Raw)
	return outcome
}

func nested(t *testing.T, body map[string]any, key string) map[string]any {
	t.Helper()
	value, ok := body[key].(map[string]any)
	require.True(t, ok, "missing %q in %v", key, body)
	return value
}

func list(t *testing.T, body map[string]any, key string) []any {
	t.Helper()
	value, ok := body[key].([]any)
	require.True(t, ok, "missing %q in %v", key, body)
	return value
}

var errUnavailable = errors.New("connection refused")
