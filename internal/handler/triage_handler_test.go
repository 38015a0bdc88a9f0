package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/tubeman/internal/model"
)

type mockTriageService struct {
	listQueueFn  func(ctx context.Context) ([]*model.QueueEntry, error)
	addToQueueFn func(ctx context.Context, videoID string, position int) (*model.QueueEntry, error)
	moveFn       func(ctx context.Context, entryID string, newIndex int) error
	removeFn     func(ctx context.Context, entryID string) error
	listInboxFn  func(ctx context.Context) ([]*model.InboxEntry, error)
	addToInboxFn func(ctx context.Context, videoID string, date *time.Time) (*model.InboxEntry, error)
	clearInboxFn func(ctx context.Context, entryID string) error
}

func (m *mockTriageService) ListQueue(ctx context.Context) ([]*model.QueueEntry, error) {
	return m.listQueueFn(ctx)
}

func (m *mockTriageService) AddToQueue(ctx context.Context, videoID string, position int) (*model.QueueEntry, error) {
	return m.addToQueueFn(ctx, videoID, position)
}

func (m *mockTriageService) MoveQueueEntry(ctx context.Context, entryID string, newIndex int) error {
	return m.moveFn(ctx, entryID, newIndex)
}

func (m *mockTriageService) RemoveFromQueue(ctx context.Context, entryID string) error {
	return m.removeFn(ctx, entryID)
}

func (m *mockTriageService) ListInbox(ctx context.Context) ([]*model.InboxEntry, error) {
	return m.listInboxFn(ctx)
}

func (m *mockTriageService) AddToInbox(ctx context.Context, videoID string, date *time.Time) (*model.InboxEntry, error) {
	return m.addToInboxFn(ctx, videoID, date)
}

func (m *mockTriageService) ClearFromInbox(ctx context.Context, entryID string) error {
	return m.clearInboxFn(ctx, entryID)
}

func triageRouter(service TriageServiceInterface) *chi.Mux {
	h := NewTriageHandler(service)
	r := chi.NewRouter()
	r.Get("/api/queue", h.ListQueue)
	r.Post("/api/queue", h.AddToQueue)
	r.Patch("/api/queue/{entryId}", h.MoveQueueEntry)
	r.Delete("/api/queue/{entryId}", h.RemoveFromQueue)
	r.Get("/api/inbox", h.ListInbox)
	r.Post("/api/inbox", h.AddToInbox)
	r.Delete("/api/inbox/{entryId}", h.ClearFromInbox)
	return r
}

// TestListQueue_ReturnsEntriesInOrder は視聴キュー取得のレスポンスを検証する。
func TestListQueue_ReturnsEntriesInOrder(t *testing.T) {
	now := time.Now()
	service := &mockTriageService{
		listQueueFn: func(ctx context.Context) ([]*model.QueueEntry, error) {
			return []*model.QueueEntry{
				{ID: "q1", VideoID: "v1", Order: 0, CreatedAt: now},
				{ID: "q2", VideoID: "v2", Order: 1, CreatedAt: now},
			}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/queue", nil)
	w := httptest.NewRecorder()
	triageRouter(service).ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var got []queueEntryResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(got) != 2 || got[0].Order != 0 || got[1].Order != 1 {
		t.Errorf("entries = %+v, want 2 entries ordered 0,1", got)
	}
}

// TestAddToQueue_Returns201 はキュー追加が201と作成済みエントリを返すことを検証する。
func TestAddToQueue_Returns201(t *testing.T) {
	var gotVideoID string
	var gotPosition int
	service := &mockTriageService{
		addToQueueFn: func(ctx context.Context, videoID string, position int) (*model.QueueEntry, error) {
			gotVideoID, gotPosition = videoID, position
			return &model.QueueEntry{ID: "q-new", VideoID: videoID, Order: position}, nil
		},
	}

	body := `{"video_id":"v-add","position":2}`
	req := httptest.NewRequest(http.MethodPost, "/api/queue", strings.NewReader(body))
	w := httptest.NewRecorder()
	triageRouter(service).ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	if gotVideoID != "v-add" || gotPosition != 2 {
		t.Errorf("forwarded = (%q, %d), want (v-add, 2)", gotVideoID, gotPosition)
	}

	var got queueEntryResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got.ID != "q-new" {
		t.Errorf("id = %q, want q-new", got.ID)
	}
}

// TestAddToQueue_UnknownVideo_Returns404 は存在しない動画の追加が404になることを検証する。
func TestAddToQueue_UnknownVideo_Returns404(t *testing.T) {
	service := &mockTriageService{
		addToQueueFn: func(ctx context.Context, videoID string, position int) (*model.QueueEntry, error) {
			return nil, model.NewVideoNotFoundError(videoID)
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/queue", strings.NewReader(`{"video_id":"v-missing"}`))
	w := httptest.NewRecorder()
	triageRouter(service).ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusNotFound)
	}
}

// TestMoveQueueEntry_Returns204 はキューエントリ移動が204を返すことを検証する。
func TestMoveQueueEntry_Returns204(t *testing.T) {
	var gotEntryID string
	var gotIndex int
	service := &mockTriageService{
		moveFn: func(ctx context.Context, entryID string, newIndex int) error {
			gotEntryID, gotIndex = entryID, newIndex
			return nil
		},
	}

	req := httptest.NewRequest(http.MethodPatch, "/api/queue/q-move", strings.NewReader(`{"position":0}`))
	w := httptest.NewRecorder()
	triageRouter(service).ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusNoContent)
	}
	if gotEntryID != "q-move" || gotIndex != 0 {
		t.Errorf("forwarded = (%q, %d), want (q-move, 0)", gotEntryID, gotIndex)
	}
}

// TestRemoveFromQueue_Returns204 はキューエントリ削除が204を返すことを検証する。
func TestRemoveFromQueue_Returns204(t *testing.T) {
	var gotEntryID string
	service := &mockTriageService{
		removeFn: func(ctx context.Context, entryID string) error {
			gotEntryID = entryID
			return nil
		},
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/queue/q-del", nil)
	w := httptest.NewRecorder()
	triageRouter(service).ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusNoContent)
	}
	if gotEntryID != "q-del" {
		t.Errorf("entryID = %q, want q-del", gotEntryID)
	}
}

// TestRemoveFromQueue_NotFound_Returns404 は存在しないエントリの削除が404になることを検証する。
func TestRemoveFromQueue_NotFound_Returns404(t *testing.T) {
	service := &mockTriageService{
		removeFn: func(ctx context.Context, entryID string) error {
			return model.NewQueueEntryNotFoundError(entryID)
		},
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/queue/q-missing", nil)
	w := httptest.NewRecorder()
	triageRouter(service).ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusNotFound)
	}
}

// TestListInbox_ReturnsEntries は受信箱取得のレスポンスを検証する。
func TestListInbox_ReturnsEntries(t *testing.T) {
	date := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	service := &mockTriageService{
		listInboxFn: func(ctx context.Context) ([]*model.InboxEntry, error) {
			return []*model.InboxEntry{
				{ID: "i1", VideoID: "v1", Date: &date},
				{ID: "i2", VideoID: "v2", Date: nil},
			}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/inbox", nil)
	w := httptest.NewRecorder()
	triageRouter(service).ServeHTTP(w, req)

	var got []inboxEntryResponse
	if err := json.NewDecoder(w.Result().Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("entries = %d, want 2", len(got))
	}
	if got[0].Date == nil || !got[0].Date.Equal(date) {
		t.Errorf("first date = %v, want %v", got[0].Date, date)
	}
	if got[1].Date != nil {
		t.Errorf("second date = %v, want nil", got[1].Date)
	}
}

// TestAddToInbox_Returns201 は受信箱追加が201を返すことを検証する。
func TestAddToInbox_Returns201(t *testing.T) {
	var gotDate *time.Time
	service := &mockTriageService{
		addToInboxFn: func(ctx context.Context, videoID string, date *time.Time) (*model.InboxEntry, error) {
			gotDate = date
			return &model.InboxEntry{ID: "i-new", VideoID: videoID, Date: date}, nil
		},
	}

	body := `{"video_id":"v-in","date":"2024-05-01T12:00:00Z"}`
	req := httptest.NewRequest(http.MethodPost, "/api/inbox", strings.NewReader(body))
	w := httptest.NewRecorder()
	triageRouter(service).ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusCreated)
	}
	if gotDate == nil || gotDate.Year() != 2024 {
		t.Errorf("date = %v, want 2024-05-01", gotDate)
	}
}

// TestAddToInbox_WithoutDate はdate省略時にnilがサービスへ渡ることを検証する。
func TestAddToInbox_WithoutDate(t *testing.T) {
	var called bool
	service := &mockTriageService{
		addToInboxFn: func(ctx context.Context, videoID string, date *time.Time) (*model.InboxEntry, error) {
			called = true
			if date != nil {
				t.Errorf("date = %v, want nil", date)
			}
			return &model.InboxEntry{ID: "i-new", VideoID: videoID}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/inbox", strings.NewReader(`{"video_id":"v-in"}`))
	w := httptest.NewRecorder()
	triageRouter(service).ServeHTTP(w, req)

	if !called {
		t.Fatal("AddToInbox was not called")
	}
}

// TestClearFromInbox_Returns204 は受信箱エントリのクリアが204を返すことを検証する。
func TestClearFromInbox_Returns204(t *testing.T) {
	var gotEntryID string
	service := &mockTriageService{
		clearInboxFn: func(ctx context.Context, entryID string) error {
			gotEntryID = entryID
			return nil
		},
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/inbox/i-clear", nil)
	w := httptest.NewRecorder()
	triageRouter(service).ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusNoContent)
	}
	if gotEntryID != "i-clear" {
		t.Errorf("entryID = %q, want i-clear", gotEntryID)
	}
}

// TestClearFromInbox_NotFound_Returns404 は存在しないエントリのクリアが404になることを検証する。
func TestClearFromInbox_NotFound_Returns404(t *testing.T) {
	service := &mockTriageService{
		clearInboxFn: func(ctx context.Context, entryID string) error {
			return model.NewInboxEntryNotFoundError(entryID)
		},
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/inbox/i-missing", nil)
	w := httptest.NewRecorder()
	triageRouter(service).ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusNotFound)
	}
}
