package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/vshah-se/superpod/internal/catalog"
	"github.com/vshah-se/superpod/internal/resolve"
	"github.com/vshah-se/superpod/internal/session"
)

type fakeText struct {
	res resolve.Result
	err error
}

func (f *fakeText) HandleText(context.Context, string) (resolve.Result, error) { return f.res, f.err }
func (f *fakeText) State() session.State                                       { return session.StateIdle }

func testCatalog() *catalog.MemoryStore {
	store := catalog.NewMemoryStore()
	store.Put(
		catalog.MediaFile{ID: "f1", Title: "One", Duration: 600, StreamLocator: "supabase://f1.mp3", Status: catalog.StatusCompleted, Topics: []string{"funding"}},
		catalog.Segment{ID: "s1", FileID: "f1", Start: 120, End: 180, Text: "startup funding", Confidence: 0.9},
	)
	store.Put(
		catalog.MediaFile{ID: "f2", Title: "Two", Duration: 300, StreamLocator: "supabase://f2.mp3", Status: catalog.StatusCompleted, Topics: []string{"funding", "markets"}},
		catalog.Segment{ID: "s2", FileID: "f2", Start: 0, End: 60, Text: "venture rounds", Confidence: 0.8},
	)
	return store
}

type fakeURLs struct{}

func (fakeURLs) StreamURL(locator string) string { return "https://cdn.test/" + locator }

func newTestServer(text TextHandler) *Server {
	insights := resolve.New(nil, resolve.FallbackPolicy{}, zerolog.Nop())
	return New(text, testCatalog(), fakeURLs{}, insights, nil, zerolog.Nop())
}

func TestServer_Healthz(t *testing.T) {
	srv := newTestServer(&fakeText{})
	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.Echo.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestAssistantMessage_ReturnsIntent(t *testing.T) {
	srv := newTestServer(&fakeText{res: resolve.Result{
		ReplyText: "Playing it now",
		Intent: &resolve.PlaybackIntent{
			FileID:  "f1",
			Segment: catalog.Segment{ID: "s1", FileID: "f1", Start: 120, End: 180},
		},
	}})

	body := `{"utterance":"play the part about startup funding"}`
	r := httptest.NewRequest(http.MethodPost, "/assistant/message", strings.NewReader(body))
	r.Header.Set(echo.HeaderContentType, "application/json")
	w := httptest.NewRecorder()
	srv.Echo.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp messageResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ConversationID == "" {
		t.Fatal("conversation id not assigned")
	}
	if resp.PlaybackIntent == nil || resp.PlaybackIntent.Start != 120 {
		t.Fatalf("intent missing or wrong: %+v", resp.PlaybackIntent)
	}
}

func TestAssistantMessage_EmptyUtterance(t *testing.T) {
	srv := newTestServer(&fakeText{})
	for _, body := range []string{`{"utterance":""}`, `{"utterance":"   \t "}`} {
		r := httptest.NewRequest(http.MethodPost, "/assistant/message", strings.NewReader(body))
		r.Header.Set(echo.HeaderContentType, "application/json")
		w := httptest.NewRecorder()
		srv.Echo.ServeHTTP(w, r)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400, got %d", body, w.Code)
		}
	}
}

func TestAssistantMessage_HandlerError(t *testing.T) {
	srv := newTestServer(&fakeText{err: errors.New("resolver down")})
	r := httptest.NewRequest(http.MethodPost, "/assistant/message", strings.NewReader(`{"utterance":"hi"}`))
	r.Header.Set(echo.HeaderContentType, "application/json")
	w := httptest.NewRecorder()
	srv.Echo.ServeHTTP(w, r)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
}

func TestListMedia_IncludesStreamURL(t *testing.T) {
	srv := newTestServer(&fakeText{})
	r := httptest.NewRequest(http.MethodGet, "/media", nil)
	w := httptest.NewRecorder()
	srv.Echo.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var out []mediaResponse
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 2 || out[0].StreamURL != "https://cdn.test/supabase://f1.mp3" {
		t.Fatalf("unexpected media %+v", out)
	}
}

func TestListSegments(t *testing.T) {
	srv := newTestServer(&fakeText{})
	r := httptest.NewRequest(http.MethodGet, "/media/f1/segments", nil)
	w := httptest.NewRecorder()
	srv.Echo.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var segs []catalog.Segment
	if err := json.Unmarshal(w.Body.Bytes(), &segs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(segs) != 1 || segs[0].ID != "s1" {
		t.Fatalf("unexpected segments %+v", segs)
	}
}

func TestListSegments_UnknownFileEmpty(t *testing.T) {
	srv := newTestServer(&fakeText{})
	r := httptest.NewRequest(http.MethodGet, "/media/nope/segments", nil)
	w := httptest.NewRecorder()
	srv.Echo.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body := strings.TrimSpace(w.Body.String()); body != "[]" {
		t.Fatalf("expected empty array, got %q", body)
	}
}

func TestEpisodeSummary(t *testing.T) {
	srv := newTestServer(&fakeText{})
	r := httptest.NewRequest(http.MethodGet, "/media/f1/summary?style=topics", nil)
	w := httptest.NewRecorder()
	srv.Echo.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var sum resolve.EpisodeSummary
	if err := json.Unmarshal(w.Body.Bytes(), &sum); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sum.FileID != "f1" || sum.Style != resolve.StyleTopics {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if !strings.Contains(sum.Text, "funding") {
		t.Fatalf("topics summary should list the tags: %q", sum.Text)
	}
}

func TestEpisodeSummary_UnknownFile(t *testing.T) {
	srv := newTestServer(&fakeText{})
	r := httptest.NewRequest(http.MethodGet, "/media/nope/summary", nil)
	w := httptest.NewRecorder()
	srv.Echo.ServeHTTP(w, r)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestRecommendations(t *testing.T) {
	srv := newTestServer(&fakeText{})
	r := httptest.NewRequest(http.MethodGet, "/media/f1/recommendations", nil)
	w := httptest.NewRecorder()
	srv.Echo.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var recs []resolve.Recommendation
	if err := json.Unmarshal(w.Body.Bytes(), &recs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(recs) != 1 || recs[0].FileID != "f2" {
		t.Fatalf("unexpected recommendations %+v", recs)
	}
}

type fakeStore struct {
	fakeURLs
	keys []string
	err  error
}

func (f *fakeStore) Upload(key string, data []byte) error {
	f.keys = append(f.keys, key)
	return f.err
}

func TestUploadAudio(t *testing.T) {
	store := &fakeStore{}
	srv := New(&fakeText{}, testCatalog(), store, nil, nil, zerolog.Nop())

	r := httptest.NewRequest(http.MethodPost, "/media/f2/audio", strings.NewReader("mp3 bytes"))
	r.Header.Set(echo.HeaderContentType, "audio/mpeg")
	w := httptest.NewRecorder()
	srv.Echo.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp uploadResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Locator != "supabase://f2" {
		t.Fatalf("unexpected locator %q", resp.Locator)
	}
	if len(store.keys) != 1 || store.keys[0] != "f2" {
		t.Fatalf("unexpected stored keys %v", store.keys)
	}
}

func TestUploadAudio_EmptyBody(t *testing.T) {
	srv := New(&fakeText{}, testCatalog(), &fakeStore{}, nil, nil, zerolog.Nop())
	r := httptest.NewRequest(http.MethodPost, "/media/f2/audio", strings.NewReader(""))
	w := httptest.NewRecorder()
	srv.Echo.ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestUploadAudio_NotRegisteredWithoutUploader(t *testing.T) {
	srv := newTestServer(&fakeText{})
	r := httptest.NewRequest(http.MethodPost, "/media/f2/audio", strings.NewReader("mp3 bytes"))
	w := httptest.NewRecorder()
	srv.Echo.ServeHTTP(w, r)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestAssistantState(t *testing.T) {
	srv := newTestServer(&fakeText{})
	r := httptest.NewRequest(http.MethodGet, "/assistant/state", nil)
	w := httptest.NewRecorder()
	srv.Echo.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "idle") {
		t.Fatalf("unexpected state body %q", w.Body.String())
	}
}
