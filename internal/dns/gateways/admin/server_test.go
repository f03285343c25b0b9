package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/haukened/nullroute/internal/dns/common/metrics"
	"github.com/haukened/nullroute/internal/dns/domain"
	"github.com/haukened/nullroute/internal/dns/repos/blocklist"
	"github.com/haukened/nullroute/internal/dns/services/ruleset"
)

// fakeRepo keeps a set of blocked names.
type fakeRepo struct {
	mu      sync.Mutex
	blocked map[string]bool
}

func newFakeRepo(names ...string) *fakeRepo {
	r := &fakeRepo{blocked: map[string]bool{}}
	for _, n := range names {
		r.blocked[n] = true
	}
	return r
}

func (r *fakeRepo) Decide(name string) domain.BlockDecision {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.blocked[name] {
		return domain.BlockDecision{Verdict: domain.Blocked, Name: name, Apex: "example.com"}
	}
	return domain.AllowDecision(name)
}

func (r *fakeRepo) Block(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	was := r.blocked[name]
	r.blocked[name] = true
	return !was
}

func (r *fakeRepo) Unblock(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	was := r.blocked[name]
	delete(r.blocked, name)
	return was
}

func (r *fakeRepo) Stats() blocklist.RepoStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return blocklist.RepoStats{Domains: int64(len(r.blocked)), Epoch: 3, Cache: blocklist.CacheStats{Capacity: 10}}
}

// fakeStore is an in-memory RuleStore.
type fakeStore struct {
	rules  map[string]domain.UserRule
	putErr error
}

func newFakeStore() *fakeStore { return &fakeStore{rules: map[string]domain.UserRule{}} }

func (s *fakeStore) Put(rule domain.UserRule) error {
	if s.putErr != nil {
		return s.putErr
	}
	s.rules[rule.Key()] = rule
	return nil
}

func (s *fakeStore) Delete(kind domain.RuleKind, hostname string, wildcard bool) (bool, error) {
	key := domain.UserRule{Kind: kind, Hostname: hostname, Wildcard: wildcard}.Key()
	_, ok := s.rules[key]
	delete(s.rules, key)
	return ok, nil
}

func (s *fakeStore) List() ([]domain.UserRule, error) {
	out := make([]domain.UserRule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	return out, nil
}

func (s *fakeStore) Stats() blocklist.StoreStats {
	return blocklist.StoreStats{Version: 2, UpdatedUnix: 1700000000, Rules: uint64(len(s.rules))}
}

// fakeReloader returns a canned result.
type fakeReloader struct {
	calls int
	rs    *ruleset.Ruleset
	err   error
}

func (f *fakeReloader) Apply(context.Context) (*ruleset.Ruleset, error) {
	f.calls++
	return f.rs, f.err
}

func (f *fakeReloader) Current() *ruleset.Ruleset { return f.rs }

type fixture struct {
	repo     *fakeRepo
	store    *fakeStore
	reloader *fakeReloader
	handler  http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:  newFakeRepo("ads.example.com"),
		store: newFakeStore(),
		reloader: &fakeReloader{rs: &ruleset.Ruleset{
			Sources:     []domain.DomainSet{domain.NewDomainSet("a.com")},
			SourceNames: []string{"base"},
			LoadedAt:    time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC),
		}},
	}
	srv, err := New(Options{
		Repo:     f.repo,
		Store:    f.store,
		Reloader: f.reloader,
		Metrics:  metrics.New().Handler(),
	})
	require.NoError(t, err)
	f.handler = srv.Routes()
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestNew_RequiresRepository(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestMetricsDisabled(t *testing.T) {
	srv, err := New(Options{Repo: newFakeRepo()})
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestClassify(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name        string
		path        string
		wantStatus  int
		wantVerdict string
	}{
		{"blocked", "/api/v1/classify/ads.example.com", http.StatusOK, "blocked"},
		{"case folded", "/api/v1/classify/ADS.Example.COM", http.StatusOK, "blocked"},
		{"allowed", "/api/v1/classify/example.org", http.StatusOK, "allowed"},
		{"invalid hostname", "/api/v1/classify/bad_name!", http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, tt.path, "")
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantVerdict == "" {
				return
			}
			resp := decode[decisionResponse](t, rec)
			assert.Equal(t, tt.wantVerdict, resp.Verdict)
		})
	}
}

func TestBlockAndUnblock(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPut, "/api/v1/blocked/tracker.example.net", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[decisionResponse](t, rec)
	assert.Equal(t, "blocked", resp.Verdict)
	require.NotNil(t, resp.Changed)
	assert.True(t, *resp.Changed)
	assert.Contains(t, f.store.rules, "block|0|tracker.example.net")
	assert.True(t, f.repo.Decide("tracker.example.net").IsBlocked())

	rec = f.do(t, http.MethodPut, "/api/v1/blocked/tracker.example.net", "")
	resp = decode[decisionResponse](t, rec)
	assert.False(t, *resp.Changed, "second block is a no-op")

	rec = f.do(t, http.MethodDelete, "/api/v1/blocked/tracker.example.net", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[decisionResponse](t, rec)
	assert.Equal(t, "allowed", resp.Verdict)
	assert.True(t, *resp.Changed)
	assert.NotContains(t, f.store.rules, "block|0|tracker.example.net")
}

func TestBlock_StoreFailure(t *testing.T) {
	f := newFixture(t)
	f.store.putErr = errors.New("disk full")

	rec := f.do(t, http.MethodPut, "/api/v1/blocked/x.example.com", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.False(t, f.repo.Decide("x.example.com").IsBlocked(), "live state untouched when persisting fails")
}

func TestCreateRule(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantKey    string
	}{
		{"wildcard allow", `{"pattern":"*.cdn.example.com","kind":"allow"}`, http.StatusCreated, "allow|1|cdn.example.com"},
		{"redirect", `{"pattern":"router.lan","kind":"redirect","address":"192.168.1.1"}`, http.StatusCreated, "redirect|0|router.lan"},
		{"disabled block", `{"pattern":"ads.example.org","kind":"block","enabled":false}`, http.StatusCreated, "block|0|ads.example.org"},
		{"missing pattern", `{"kind":"block"}`, http.StatusBadRequest, ""},
		{"bad kind", `{"pattern":"a.com","kind":"deny"}`, http.StatusBadRequest, ""},
		{"bad address", `{"pattern":"a.com","kind":"redirect","address":"nope"}`, http.StatusBadRequest, ""},
		{"redirect without address", `{"pattern":"a.com","kind":"redirect"}`, http.StatusBadRequest, ""},
		{"unknown field", `{"pattern":"a.com","kind":"block","extra":1}`, http.StatusBadRequest, ""},
		{"not json", `pattern=a.com`, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec := f.do(t, http.MethodPost, "/api/v1/rules", tt.body)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantKey == "" {
				assert.Empty(t, f.store.rules)
				assert.Zero(t, f.reloader.calls)
				return
			}
			assert.Contains(t, f.store.rules, tt.wantKey)
			assert.Equal(t, 1, f.reloader.calls)
		})
	}
}

func TestCreateRule_ReloadFailure(t *testing.T) {
	f := newFixture(t)
	f.reloader.rs = nil
	f.reloader.err = errors.New("manifest: no such file")

	rec := f.do(t, http.MethodPost, "/api/v1/rules", `{"pattern":"a.com","kind":"block"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "rule saved but reload failed")
}

func TestListAndDeleteRules(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/v1/rules", `{"pattern":"*.ads.example","kind":"block"}`).Code)

	rec := f.do(t, http.MethodGet, "/api/v1/rules", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rules := decode[[]ruleResponse](t, rec)
	require.Len(t, rules, 1)
	assert.Equal(t, ruleResponse{Pattern: "*.ads.example", Kind: "block", Enabled: true, Wildcard: true}, rules[0])

	rec = f.do(t, http.MethodDelete, "/api/v1/rules/block/*.ads.example", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, f.store.rules)

	rec = f.do(t, http.MethodDelete, "/api/v1/rules/block/*.ads.example", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/v1/rules/deny/a.com", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReload(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		f := newFixture(t)
		rec := f.do(t, http.MethodPost, "/api/v1/reload", "")
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[reloadResponse](t, rec)
		assert.Equal(t, 1, resp.Sources)
		assert.Equal(t, "2030-01-02T03:04:05Z", resp.LoadedAt)
		assert.Empty(t, resp.Warnings)
	})

	t.Run("partial", func(t *testing.T) {
		f := newFixture(t)
		f.reloader.err = multierr.Combine(errors.New("source a: missing"), errors.New("source b: missing"))
		rec := f.do(t, http.MethodPost, "/api/v1/reload", "")
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[reloadResponse](t, rec)
		assert.Equal(t, []string{"source a: missing", "source b: missing"}, resp.Warnings)
	})

	t.Run("failed", func(t *testing.T) {
		f := newFixture(t)
		f.reloader.rs = nil
		f.reloader.err = errors.New("manifest broken")
		rec := f.do(t, http.MethodPost, "/api/v1/reload", "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Contains(t, rec.Body.String(), "manifest broken")
	})
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[statsResponse](t, rec)
	assert.Equal(t, int64(1), resp.Domains)
	assert.Equal(t, uint64(3), resp.Epoch)
	assert.Equal(t, 10, resp.Cache.Capacity)
	require.NotNil(t, resp.Store)
	assert.Equal(t, uint64(2), resp.Store.Version)
	assert.Equal(t, "2023-11-14T22:13:20Z", resp.Store.Updated)
	assert.Equal(t, []string{"base"}, resp.Sources)
}

func TestStoreDisabled(t *testing.T) {
	srv, err := New(Options{Repo: newFakeRepo()})
	require.NoError(t, err)
	h := srv.Routes()

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/rules"},
		{http.MethodPost, "/api/v1/rules"},
		{http.MethodPost, "/api/v1/reload"},
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, strings.NewReader("{}")))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, tc.path)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/v1/blocked/ok.example.com", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "live block works without a store")
}

func TestServer_StartShutdown(t *testing.T) {
	srv, err := New(Options{Address: "127.0.0.1:0", Repo: newFakeRepo()})
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))

	resp, err := http.Get("http://" + srv.Address() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, srv.Shutdown(ctx))
}
