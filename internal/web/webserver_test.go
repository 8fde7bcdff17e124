package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jieun/windview/internal/config"
	"github.com/jieun/windview/internal/database"
	"github.com/jieun/windview/internal/particles"
	"github.com/matryer/is"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type fakeViews struct {
	mu      sync.Mutex
	views   []database.View
	failErr error
}

func (f *fakeViews) Record(_ context.Context, v database.View) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	f.views = append(f.views, v)
	return nil
}

func (f *fakeViews) Totals(_ context.Context) (*database.Totals, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return nil, f.failErr
	}
	t := &database.Totals{Views: int64(len(f.views)), BySector: map[string]int64{}}
	for _, v := range f.views {
		if v.Sector != "" {
			t.BySector[v.Sector]++
		}
	}
	return t, nil
}

func newTestServer(t *testing.T, cfg *config.WebConfig, views ViewRecorder) *WebServer {
	t.Helper()
	if cfg == nil {
		cfg = config.NewDefaultConfig().Web
	}
	s, err := NewServer(cfg, views)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

func do(s *WebServer, method, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, httptest.NewRequest(method, target, nil))
	return w
}

func TestMainPageRendersTemplate(t *testing.T) {
	is := is.New(t)
	s := newTestServer(t, nil, nil)

	w := do(s, http.MethodGet, "/")
	is.Equal(w.Code, http.StatusOK)
	is.True(strings.HasPrefix(w.Header().Get("Content-Type"), "text/html"))

	var expected bytes.Buffer
	data := MainPageData{
		TemplateData: s.getBaseTemplateData("Wind Particles"),
		Params:       particles.Resolve(particles.Observation{}),
	}
	is.NoErr(s.templates.ExecuteTemplate(&expected, "main.html", data))
	is.Equal(w.Body.String(), expected.String())
}

func TestMainPageIsStatic(t *testing.T) {
	is := is.New(t)
	s := newTestServer(t, nil, nil)

	first := do(s, http.MethodGet, "/").Body.String()
	second := do(s, http.MethodGet, "/").Body.String()
	is.Equal(first, second)
}

func TestMainPageWithObservation(t *testing.T) {
	is := is.New(t)
	s := newTestServer(t, nil, nil)

	w := do(s, http.MethodGet, "/?wsd=10&vec=100&pm10=60")
	is.Equal(w.Code, http.StatusOK)
	body := w.Body.String()
	is.True(strings.Contains(body, "30,000"))
	is.True(strings.Contains(body, `<dd id="sector">E-SE</dd>`))
	is.True(strings.Contains(body, `"sector":"E-SE"`))
}

func TestUnknownRoutes(t *testing.T) {
	is := is.New(t)
	s := newTestServer(t, nil, nil)

	is.Equal(do(s, http.MethodGet, "/nope").Code, http.StatusNotFound)
	is.Equal(do(s, http.MethodGet, "/main.html").Code, http.StatusNotFound)
	is.Equal(do(s, http.MethodPost, "/").Code, http.StatusMethodNotAllowed)
	is.Equal(do(s, http.MethodDelete, "/").Code, http.StatusMethodNotAllowed)
}

func TestHeadMainPage(t *testing.T) {
	is := is.New(t)
	views := &fakeViews{}
	s := newTestServer(t, nil, views)

	w := do(s, http.MethodHead, "/")
	is.Equal(w.Code, http.StatusOK)
	is.True(strings.HasPrefix(w.Header().Get("Content-Type"), "text/html"))
	s.wg.Wait()

	views.mu.Lock()
	is.Equal(len(views.views), 0) // HEAD is not a page view
	views.mu.Unlock()
}

func TestSecurityHeaders(t *testing.T) {
	is := is.New(t)
	s := newTestServer(t, nil, nil)

	w := do(s, http.MethodGet, "/")
	is.Equal(w.Header().Get("X-Frame-Options"), "DENY")
	is.Equal(w.Header().Get("X-Content-Type-Options"), "nosniff")
	is.Equal(w.Header().Get("Referrer-Policy"), "strict-origin-when-cross-origin")
}

func TestStaticFiles(t *testing.T) {
	is := is.New(t)
	s := newTestServer(t, nil, nil)

	w := do(s, http.MethodGet, "/static/css/main.css")
	is.Equal(w.Code, http.StatusOK)
	is.True(strings.Contains(w.Header().Get("Content-Type"), "text/css"))
	is.Equal(w.Header().Get("Cache-Control"), "public, max-age=3600")

	is.Equal(do(s, http.MethodGet, "/static/js/main.js").Code, http.StatusOK)
	is.Equal(do(s, http.MethodGet, "/static/css/").Code, http.StatusNotFound)
	is.Equal(do(s, http.MethodGet, "/static/missing.js").Code, http.StatusNotFound)
}

func TestSmallRoutes(t *testing.T) {
	is := is.New(t)
	s := newTestServer(t, nil, nil)

	w := do(s, http.MethodGet, "/ping")
	is.Equal(w.Code, http.StatusOK)
	is.Equal(w.Body.String(), "pong")

	w = do(s, http.MethodGet, "/robots.txt")
	is.Equal(w.Code, http.StatusOK)
	is.True(strings.HasPrefix(w.Body.String(), "User-agent: *"))

	is.Equal(do(s, http.MethodGet, "/favicon.ico").Code, http.StatusNoContent)
}

func TestParticlesAPI(t *testing.T) {
	is := is.New(t)
	s := newTestServer(t, nil, nil)

	w := do(s, http.MethodGet, "/api/v1/particles?wsd=2&vec=-45&pm10=20")
	is.Equal(w.Code, http.StatusOK)

	var p particles.Params
	is.NoErr(json.Unmarshal(w.Body.Bytes(), &p))
	is.Equal(p.Speed, 4)
	is.Equal(p.Sector, "NW-N")
	is.Equal(p.Velocity, particles.Vector3{X: 0, Y: 4, Z: 0})
	is.Equal(p.Count, 20000)
	is.Equal(p.Max, particles.MaxParticles)
}

func TestStatsWithoutViewLog(t *testing.T) {
	is := is.New(t)
	s := newTestServer(t, nil, nil)

	w := do(s, http.MethodGet, "/api/v1/stats")
	is.Equal(w.Code, http.StatusOK)

	var resp StatsResponse
	is.NoErr(json.Unmarshal(w.Body.Bytes(), &resp))
	is.Equal(resp.ViewLogEnabled, false)
	is.True(resp.ViewLog == nil)
	is.Equal(resp.Version, config.AppVersion)
}

func TestViewsAreRecorded(t *testing.T) {
	is := is.New(t)
	views := &fakeViews{}
	s := newTestServer(t, nil, views)

	is.Equal(do(s, http.MethodGet, "/?vec=10").Code, http.StatusOK)
	is.Equal(do(s, http.MethodGet, "/?vec=200&pm10=100").Code, http.StatusOK)
	is.Equal(do(s, http.MethodGet, "/nope").Code, http.StatusNotFound)
	s.wg.Wait()

	views.mu.Lock()
	is.Equal(len(views.views), 2)
	is.Equal(views.views[0].Sector, "N-NE")
	is.Equal(views.views[1].Count, 40000)
	views.mu.Unlock()

	w := do(s, http.MethodGet, "/api/v1/stats")
	is.Equal(w.Code, http.StatusOK)
	var resp StatsResponse
	is.NoErr(json.Unmarshal(w.Body.Bytes(), &resp))
	is.True(resp.ViewLogEnabled)
	is.Equal(resp.ViewLog.Views, int64(2))
	is.Equal(resp.ViewLog.BySector["S-SW"], int64(1))
}

func TestViewLogFailureDoesNotBreakPage(t *testing.T) {
	is := is.New(t)
	views := &fakeViews{failErr: errors.New("disk full")}
	s := newTestServer(t, nil, views)

	is.Equal(do(s, http.MethodGet, "/").Code, http.StatusOK)
	s.wg.Wait()

	w := do(s, http.MethodGet, "/api/v1/stats")
	is.Equal(w.Code, http.StatusInternalServerError)
	is.True(strings.Contains(w.Body.String(), "disk full"))
}

func copyEmbeddedTemplates(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	sub, err := fs.Sub(EmbeddedTemplatesFS, "templates")
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"main.html", "error.html"} {
		b, err := fs.ReadFile(sub, name)
		if err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, name), b, 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestTemplateDirOverride(t *testing.T) {
	is := is.New(t)
	dir := t.TempDir()
	is.NoErr(os.WriteFile(filepath.Join(dir, "main.html"), []byte("<p>{{.Params.Speed}}</p>"), 0644))

	cfg := config.NewDefaultConfig().Web
	cfg.TemplateDir = dir
	s := newTestServer(t, cfg, nil)

	w := do(s, http.MethodGet, "/?wsd=5")
	is.Equal(w.Code, http.StatusOK)
	is.Equal(w.Body.String(), "<p>5</p>")
}

func TestBrokenTemplateDirFailsAtStartup(t *testing.T) {
	is := is.New(t)
	dir := t.TempDir()
	is.NoErr(os.WriteFile(filepath.Join(dir, "main.html"), []byte("{{.Params"), 0644))

	cfg := config.NewDefaultConfig().Web
	cfg.TemplateDir = dir
	_, err := NewServer(cfg, nil)
	is.True(err != nil)
}

func TestDebugReloadsTemplates(t *testing.T) {
	is := is.New(t)
	dir := copyEmbeddedTemplates(t)

	cfg := config.NewDefaultConfig().Web
	cfg.TemplateDir = dir
	cfg.Debug = true
	s := newTestServer(t, cfg, nil)
	defer gin.SetMode(gin.TestMode)

	is.Equal(do(s, http.MethodGet, "/").Code, http.StatusOK)

	is.NoErr(os.WriteFile(filepath.Join(dir, "main.html"), []byte("<p>edited</p>"), 0644))
	w := do(s, http.MethodGet, "/")
	is.Equal(w.Code, http.StatusOK)
	is.Equal(w.Body.String(), "<p>edited</p>")

	// a template that fails at execution renders the error page
	is.NoErr(os.WriteFile(filepath.Join(dir, "main.html"), []byte("<p>{{.Nope}}</p>"), 0644))
	w = do(s, http.MethodGet, "/")
	is.Equal(w.Code, http.StatusInternalServerError)
	is.True(strings.Contains(w.Body.String(), "Template error"))
}

func TestNoReloadWithoutDebug(t *testing.T) {
	is := is.New(t)
	dir := copyEmbeddedTemplates(t)

	cfg := config.NewDefaultConfig().Web
	cfg.TemplateDir = dir
	s := newTestServer(t, cfg, nil)

	before := do(s, http.MethodGet, "/").Body.String()
	is.NoErr(os.WriteFile(filepath.Join(dir, "main.html"), []byte("<p>edited</p>"), 0644))
	after := do(s, http.MethodGet, "/").Body.String()
	is.Equal(before, after)
}

func TestPageCache(t *testing.T) {
	is := is.New(t)
	s := newTestServer(t, nil, nil)
	is.True(s.pages != nil)

	first := do(s, http.MethodGet, "/?wsd=3")
	second := do(s, http.MethodGet, "/?wsd=3.5")
	is.Equal(first.Code, http.StatusOK)
	is.Equal(first.Body.String(), second.Body.String())

	w := do(s, http.MethodGet, "/api/v1/stats")
	var resp StatsResponse
	is.NoErr(json.Unmarshal(w.Body.Bytes(), &resp))
	is.True(resp.PageCache != nil)
	is.Equal(resp.PageCache.Entries, 1)
	is.Equal(resp.PageCache.Hits, int64(1))
	is.Equal(resp.PageCache.Misses, int64(1))
}

func TestPageCacheDisabled(t *testing.T) {
	is := is.New(t)
	cfg := config.NewDefaultConfig().Web
	cfg.PageCacheSize = 0
	s := newTestServer(t, cfg, nil)
	is.True(s.pages == nil)

	is.Equal(do(s, http.MethodGet, "/").Code, http.StatusOK)
	w := do(s, http.MethodGet, "/api/v1/stats")
	is.True(!strings.Contains(w.Body.String(), "page_cache"))
}

func TestShutdownWithoutStart(t *testing.T) {
	is := is.New(t)
	s := newTestServer(t, nil, nil)
	is.NoErr(s.Shutdown(context.Background()))
}

func TestNoViewsRecordedAfterShutdown(t *testing.T) {
	is := is.New(t)
	views := &fakeViews{}
	s := newTestServer(t, nil, views)
	is.NoErr(s.Shutdown(context.Background()))

	is.Equal(do(s, http.MethodGet, "/?vec=10").Code, http.StatusOK)
	s.recordView(database.View{Sector: "N-NE"})
	s.wg.Wait()

	views.mu.Lock()
	is.Equal(len(views.views), 0)
	views.mu.Unlock()
}

func TestListEmbeddedFiles(t *testing.T) {
	is := is.New(t)
	files, err := ListEmbeddedFiles()
	is.NoErr(err)
	is.True(len(files) >= 2)
}
