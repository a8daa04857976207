package web

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"santecal/internal/config"
	"santecal/internal/layout"
	"santecal/internal/model"
	"santecal/internal/store"
)

func at(day, hh, mm int) time.Time {
	return time.Date(2025, time.March, day, hh, mm, 0, 0, time.UTC)
}

func newTestServer(t *testing.T, mutate func(*config.Config)) (*httptest.Server, *store.Book) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	cfg.PreviewPath = t.TempDir() + "/preview.png"
	if mutate != nil {
		mutate(cfg)
	}

	book := store.NewBook()
	book.ReplaceSource("clinic", []model.Event{
		{ID: "A", Title: "A", Status: model.StatusScheduled, Start: at(10, 9, 0), End: at(10, 10, 0)},
		{ID: "B", Title: "B", Status: model.StatusCompleted, Start: at(10, 9, 30), End: at(10, 10, 30)},
		{ID: "C", Title: "C", Status: model.StatusScheduled, Start: at(12, 14, 0), End: at(12, 15, 0)},
	})

	srv := NewServer(cfg, layout.New(float64(cfg.RowHeight), time.UTC), book)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, book
}

func doJSON(t *testing.T, method, url string, body any, out any) int {
	t.Helper()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, url, err)
		}
	}
	return resp.StatusCode
}

func TestLayoutEndpoint(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t, nil)

	var got layoutResponse
	if code := doJSON(t, http.MethodGet, ts.URL+"/api/layout?date=2025-03-10", nil, &got); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if got.RowHeight != 128 || len(got.Placements) != 2 {
		t.Fatalf("response = %+v", got)
	}

	want := map[string]model.EventPosition{
		"A": {Left: 0, Width: 50, Top: 1152, Height: 128},
		"B": {Left: 50, Width: 50, Top: 1216, Height: 128},
	}
	for _, p := range got.Placements {
		if p.Position != want[p.Event.ID] {
			t.Errorf("%s = %+v, want %+v", p.Event.ID, p.Position, want[p.Event.ID])
		}
	}
}

func TestListEvents(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t, nil)

	tests := []struct {
		name      string
		query     string
		wantCode  int
		wantCount int
	}{
		{name: "day", query: "?date=2025-03-10", wantCode: http.StatusOK, wantCount: 2},
		{name: "week", query: "?date=2025-03-10&mode=week", wantCode: http.StatusOK, wantCount: 3},
		{name: "empty day", query: "?date=2025-03-11&mode=day", wantCode: http.StatusOK, wantCount: 0},
		{name: "bad date", query: "?date=10/03/2025", wantCode: http.StatusBadRequest},
		{name: "bad mode", query: "?date=2025-03-10&mode=year", wantCode: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got eventsResponse
			var out any = &got
			if tt.wantCode != http.StatusOK {
				out = nil
			}
			code := doJSON(t, http.MethodGet, ts.URL+"/api/events"+tt.query, nil, out)
			if code != tt.wantCode {
				t.Fatalf("status = %d, want %d", code, tt.wantCode)
			}
			if tt.wantCode == http.StatusOK && len(got.Events) != tt.wantCount {
				t.Errorf("events = %d, want %d", len(got.Events), tt.wantCount)
			}
		})
	}
}

func TestEventCRUD(t *testing.T) {
	t.Parallel()

	ts, book := newTestServer(t, nil)

	var created model.Event
	code := doJSON(t, http.MethodPost, ts.URL+"/api/events", map[string]any{
		"title":  "Follow-up",
		"start":  at(11, 8, 0),
		"end":    at(11, 8, 20),
		"status": "Scheduled",
	}, &created)
	if code != http.StatusCreated {
		t.Fatalf("create status = %d", code)
	}
	if created.ID == "" || created.Color != "primary" || created.SourceID != "" {
		t.Errorf("created = %+v", created)
	}

	var fetched model.Event
	if code := doJSON(t, http.MethodGet, ts.URL+"/api/events/"+created.ID, nil, &fetched); code != http.StatusOK {
		t.Fatalf("get status = %d", code)
	}
	if fetched.Title != "Follow-up" {
		t.Errorf("fetched = %+v", fetched)
	}

	var updated model.Event
	code = doJSON(t, http.MethodPut, ts.URL+"/api/events/"+created.ID, map[string]any{
		"title":  "Follow-up",
		"start":  at(11, 8, 0),
		"end":    at(11, 8, 20),
		"status": "Completed",
	}, &updated)
	if code != http.StatusOK || updated.Status != model.StatusCompleted {
		t.Errorf("update = %d %+v", code, updated)
	}

	if code := doJSON(t, http.MethodDelete, ts.URL+"/api/events/"+created.ID, nil, nil); code != http.StatusNoContent {
		t.Errorf("delete status = %d", code)
	}
	if _, err := book.Get(created.ID); err == nil {
		t.Error("event still present after delete")
	}
	if code := doJSON(t, http.MethodDelete, ts.URL+"/api/events/"+created.ID, nil, nil); code != http.StatusNotFound {
		t.Errorf("second delete status = %d", code)
	}
}

func TestCreateEvent_Invalid(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t, nil)

	tests := []struct {
		name string
		body any
	}{
		{name: "end before start", body: map[string]any{"title": "x", "start": at(11, 9, 0), "end": at(11, 8, 0)}},
		{name: "no title", body: map[string]any{"start": at(11, 9, 0), "end": at(11, 10, 0)}},
		{name: "unknown field", body: map[string]any{"title": "x", "start": at(11, 9, 0), "end": at(11, 10, 0), "room": 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp struct {
				Error string `json:"error"`
			}
			if code := doJSON(t, http.MethodPost, ts.URL+"/api/events", tt.body, &resp); code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", code)
			}
			if resp.Error == "" {
				t.Error("missing error message")
			}
		})
	}
}

func TestCalendarPage(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/calendar?date=2025-03-10")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	html := string(body)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	for _, want := range []string{
		`data-ready="true"`,
		`left:50%;width:50%;top:1216px;height:128px`,
		`color-green-400`,
		`/calendar?date=2025-03-09`,
		`/calendar?date=2025-03-11`,
	} {
		if !strings.Contains(html, want) {
			t.Errorf("page missing %q", want)
		}
	}
}

func TestBasicAuth(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t, func(c *config.Config) {
		c.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "s3cret"}
	})

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/health status = %d, want 200 without auth", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/api/layout?date=2025-03-10")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/layout?date=2025-03-10", nil)
	req.SetBasicAuth("admin", "s3cret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("authenticated status = %d, want 200", resp.StatusCode)
	}
}

func TestPreview_Missing(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/preview.png")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
