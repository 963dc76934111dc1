package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestFetchSnapshotParsesCSV(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("h1,h2,h3\na,b,c\nx,y\n"))
	}))
	defer srv.Close()

	c := NewSheetsClient(srv.URL, 5*time.Second)
	rows, err := c.FetchSnapshot(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 data rows, got %d", len(rows))
	}
	if rows[0][0] != "a" || len(rows[1]) != 2 {
		t.Fatalf("unexpected rows: %v", rows)
	}
}

func TestFetchSnapshotNonOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewSheetsClient(srv.URL, 5*time.Second)
	if _, err := c.FetchSnapshot(context.Background()); err == nil {
		t.Fatal("expected error on 403")
	}
}

func TestCellSentinels(t *testing.T) {
	row := []string{" a ", "NaN", "#N/A"}
	if got := Cell(row, 0); got != "a" {
		t.Fatalf("trim: %q", got)
	}
	if got := Cell(row, 1); got != "" {
		t.Fatalf("nan: %q", got)
	}
	if got := Cell(row, 2); got != "" {
		t.Fatalf("sheet error marker: %q", got)
	}
	if got := Cell(row, 9); got != "" {
		t.Fatalf("short row: %q", got)
	}
}
