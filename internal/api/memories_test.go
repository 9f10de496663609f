package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	vaulterrors "github.com/memoryvault/client/internal/errors"
	"github.com/memoryvault/client/internal/types"
)

func testDraft() types.MemoryDraft {
	return types.MemoryDraft{
		Title:    "Trip",
		Tags:     []string{"beach", "sun"},
		Location: &types.Location{Lat: 48.85, Lng: 2.35},
		FileName: "trip.png",
		File:     strings.NewReader("png-bytes"),
	}
}

func TestCreateMemory_Multipart(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
		} else {
			b, _ := io.ReadAll(f)
			if string(b) != "png-bytes" || hdr.Filename != "trip.png" {
				t.Errorf("unexpected file %q %q", hdr.Filename, b)
			}
		}
		if r.FormValue("title") != "Trip" || r.FormValue("lat") != "48.85" || r.FormValue("lng") != "2.35" {
			t.Errorf("unexpected fields %v", r.MultipartForm.Value)
		}
		if tags := r.MultipartForm.Value["tags"]; len(tags) != 2 {
			t.Errorf("unexpected tags %v", tags)
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(types.Memory{ID: "srv-1", Title: "Trip"})
	}))
	defer srv.Close()

	got, err := CreateMemory(context.Background(), srv.Client(), srv.URL, testDraft())
	if err != nil || got == nil || got.ID != "srv-1" {
		t.Fatalf("CreateMemory unexpected: got=%+v err=%v", got, err)
	}
}

func TestCreateMemory_FailuresAreUploadErrors(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		_, _ = w.Write([]byte(`{"error":"File too large"}`))
	}))
	defer srv.Close()

	_, err := CreateMemory(context.Background(), srv.Client(), srv.URL, testDraft())
	var ue *vaulterrors.UploadError
	if !errors.As(err, &ue) || ue.Message != "File too large" {
		t.Fatalf("expected UploadError with backend message, got %v", err)
	}

	hc := &http.Client{Transport: &errRT{}}
	if _, err := CreateMemory(context.Background(), hc, "http://example.com", testDraft()); !errors.Is(err, vaulterrors.ErrUpload) || !errors.Is(err, vaulterrors.ErrNetwork) {
		t.Fatalf("expected upload error wrapping network error, got %v", err)
	}

	if _, err := CreateMemory(context.Background(), hc, "http://example.com", types.MemoryDraft{Title: "x"}); !errors.Is(err, vaulterrors.ErrUpload) {
		t.Fatalf("expected validation upload error, got %v", err)
	}
}

func TestListMemories_ArrayAndEnvelope(t *testing.T) {
	t.Parallel()
	arr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"_id":"m1","title":"a"},{"_id":"m2","title":"b"}]`))
	}))
	defer arr.Close()
	got, err := ListMemories(context.Background(), arr.Client(), arr.URL)
	if err != nil || len(got) != 2 || got[1].ID != "m2" {
		t.Fatalf("ListMemories array unexpected: got=%+v err=%v", got, err)
	}

	env := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(types.ListMemoriesResponse{Memories: []types.Memory{{ID: "m1"}}, Count: 1})
	}))
	defer env.Close()
	got, err = ListMemories(context.Background(), env.Client(), env.URL)
	if err != nil || len(got) != 1 || got[0].ID != "m1" {
		t.Fatalf("ListMemories envelope unexpected: got=%+v err=%v", got, err)
	}
}

func TestUpdateMemory_Variants(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/memories/m1":
			var patch map[string]any
			_ = json.NewDecoder(r.Body).Decode(&patch)
			if _, ok := patch["description"]; ok {
				t.Errorf("nil fields must be omitted: %v", patch)
			}
			_ = json.NewEncoder(w).Encode(types.Memory{ID: "m1", Title: patch["title"].(string)})
		case "/memories/m2":
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	title := "renamed"
	got, err := UpdateMemory(context.Background(), srv.Client(), srv.URL, "m1", types.MemoryPatch{Title: &title})
	if err != nil || got == nil || got.Title != "renamed" {
		t.Fatalf("UpdateMemory unexpected: got=%+v err=%v", got, err)
	}
	got, err = UpdateMemory(context.Background(), srv.Client(), srv.URL, "m2", types.MemoryPatch{Title: &title})
	if err != nil || got != nil {
		t.Fatalf("UpdateMemory no-content unexpected: got=%+v err=%v", got, err)
	}
	if _, err := UpdateMemory(context.Background(), srv.Client(), srv.URL, "gone", types.MemoryPatch{Title: &title}); !errors.Is(err, vaulterrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeleteMemory_Statuses(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/memories/ok":
			w.WriteHeader(http.StatusNoContent)
		case "/memories/gone":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()
	if err := DeleteMemory(context.Background(), srv.Client(), srv.URL, "ok"); err != nil {
		t.Fatalf("DeleteMemory error: %v", err)
	}
	err := DeleteMemory(context.Background(), srv.Client(), srv.URL, "bad")
	var ce *vaulterrors.ClassifiedError
	if !errors.As(err, &ce) || ce.StatusCode != http.StatusInternalServerError || ce.Category != vaulterrors.Recoverable {
		t.Fatalf("expected recoverable classified error, got %v", err)
	}
	if err := DeleteMemory(context.Background(), srv.Client(), srv.URL, "gone"); !errors.Is(err, vaulterrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for 404, got %v", err)
	}
	if err := DeleteMemory(context.Background(), srv.Client(), srv.URL, ""); err == nil {
		t.Fatal("expected validation error for empty id")
	}
}

func TestDownloadMedia(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/memories/m1/download" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if got := r.Header.Get("Accept"); got != "*/*" {
			t.Errorf("Accept = %q, want */*", got)
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("raw"))
	}))
	defer srv.Close()
	got, err := DownloadMedia(context.Background(), srv.Client(), srv.URL, "m1")
	if err != nil || string(got.Data) != "raw" || got.ContentType != "image/png" {
		t.Fatalf("DownloadMedia unexpected: got=%+v err=%v", got, err)
	}
	if _, err := DownloadMedia(context.Background(), srv.Client(), srv.URL, "m2"); !errors.Is(err, vaulterrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemories_CanceledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	hc := &http.Client{Transport: &errRT{}}
	if _, err := ListMemories(ctx, hc, "http://example.com"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
