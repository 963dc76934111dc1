// Package source fetches full snapshots of the external tabular source.
package source

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Fetcher returns one complete snapshot of the external sheet: ordered rows
// of cell values at fixed column offsets. Implementations must not retain
// the returned slices.
type Fetcher interface {
	FetchSnapshot(ctx context.Context) ([][]string, error)
}

// SheetsClient fetches the spreadsheet through its CSV export endpoint.
type SheetsClient struct {
	client *resty.Client
	url    string
}

// NewSheetsClient creates a client for the given CSV export URL.
func NewSheetsClient(url string, timeout time.Duration) *SheetsClient {
	c := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(2 * time.Second)
	return &SheetsClient{client: c, url: url}
}

// FetchSnapshot downloads and parses the sheet. Rows may have differing
// field counts; short rows are returned as-is and padded by the caller's
// column accessors.
func (s *SheetsClient) FetchSnapshot(ctx context.Context) ([][]string, error) {
	if s.url == "" {
		return nil, fmt.Errorf("sheet url not configured")
	}

	resp, err := s.client.R().SetContext(ctx).Get(s.url)
	if err != nil {
		return nil, fmt.Errorf("fetch sheet: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("fetch sheet: status %d", resp.StatusCode())
	}

	r := csv.NewReader(strings.NewReader(resp.String()))
	r.FieldsPerRecord = -1 // the sheet pads rows unevenly
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse sheet csv: %w", err)
	}

	// First row is the header band.
	if len(rows) > 0 {
		rows = rows[1:]
	}
	return rows, nil
}

// Cell returns the value at offset idx in row, or "" when the row is too
// short or the cell holds a spreadsheet NaN marker.
func Cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	v := strings.TrimSpace(row[idx])
	switch strings.ToLower(v) {
	case "nan", "#n/a", "#value!", "#ref!":
		return ""
	}
	return v
}
