package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BTreeMap/ListingPipe/internal/models"
)

var bikeQuery = models.Query{SearchTerm: "bike", Location: "toronto"}

func TestHTTPFetcherWrappedAndBare(t *testing.T) {
	payloads := map[string]string{
		"wrapped": `{"listings":[{"id":"1","title":"Bike","url":"https://x/item/1/","price":120,"posted_at":"2 minutes ago"}]}`,
		"bare":    `[{"id":"1","title":"Bike","url":"https://x/item/1/","price":"$120","posted_at":"2 minutes ago"}]`,
	}

	for name, payload := range payloads {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/search" || r.URL.Query().Get("q") != "bike" || r.URL.Query().Get("location") != "toronto" {
					t.Errorf("unexpected request %s", r.URL)
				}
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(payload))
			}))
			defer srv.Close()

			f, err := NewHTTPFetcher(srv.URL+"/", "", 0)
			if err != nil {
				t.Fatalf("NewHTTPFetcher failed: %v", err)
			}
			records, err := f.Fetch(context.Background(), bikeQuery)
			if err != nil {
				t.Fatalf("Fetch failed: %v", err)
			}
			if len(records) != 1 || records[0].ID != "1" || records[0].Price != "120" && records[0].Price != "$120" {
				t.Fatalf("unexpected records: %+v", records)
			}
			if records[0].SearchTerm != "bike" || records[0].SearchLocation != "toronto" || records[0].ScrapedAt.IsZero() {
				t.Errorf("provenance not stamped: %+v", records[0])
			}
		})
	}
}

func TestHTTPFetcherStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f, _ := NewHTTPFetcher(srv.URL, "test-agent", time.Second)
	if _, err := f.Fetch(context.Background(), bikeQuery); err == nil {
		t.Error("expected error for 503")
	}
}

func TestDecodeSearchSkipsMalformedRecords(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantIDs []string
		wantErr bool
	}{
		{"wrapped with numeric id", `{"listings":[{"id":"1","title":"Bike"},{"id":2,"title":"Bike"},{"id":"3","title":"Bike"}]}`, []string{"1", "3"}, false},
		{"bare with bad shipping", `[{"id":"1","shipping_enabled":"yes"},{"id":"2"}]`, []string{"2"}, false},
		{"not json", `<html>`, nil, true},
		{"truncated array", `[{"id":"1"}`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := decodeSearch([]byte(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Fatalf("decodeSearch error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(records) != len(tt.wantIDs) {
				t.Fatalf("got %d records, want %d: %+v", len(records), len(tt.wantIDs), records)
			}
			for i, id := range tt.wantIDs {
				if records[i].ID != id {
					t.Errorf("record %d id = %q, want %q", i, records[i].ID, id)
				}
			}
		})
	}
}

func TestFileFetcherFiltersByProvenance(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.jsonl")
	content := `{"id":"1","title":"A","url":"u1","search_term":"Bike","search_location":"Toronto"}
not json
{"id":"2","title":"B","url":"u2","search_term":"phone","search_location":"toronto"}

{"id":"3","title":"C","url":"u3"}
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	records, err := NewFileFetcher(path).Fetch(context.Background(), bikeQuery)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(records) != 2 || records[0].ID != "1" || records[1].ID != "3" {
		t.Fatalf("unexpected records: %+v", records)
	}
	if records[1].SearchTerm != "bike" || records[1].ScrapedAt.IsZero() {
		t.Errorf("untagged record not stamped: %+v", records[1])
	}
}

func TestFileFetcherMissingFile(t *testing.T) {
	if _, err := NewFileFetcher(filepath.Join(t.TempDir(), "missing.jsonl")).Fetch(context.Background(), bikeQuery); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestStaticFetcher(t *testing.T) {
	boom := errors.New("boom")
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	f := &StaticFetcher{
		Records: map[models.Query][]models.RawListing{bikeQuery: {{ID: "1"}}},
		Fail:    map[models.Query]error{{SearchTerm: "x", Location: "y"}: boom},
		Now:     func() time.Time { return now },
	}

	records, err := f.Fetch(context.Background(), bikeQuery)
	if err != nil || len(records) != 1 || !records[0].ScrapedAt.Equal(now) {
		t.Fatalf("unexpected result: %+v, %v", records, err)
	}
	if _, err := f.Fetch(context.Background(), models.Query{SearchTerm: "x", Location: "y"}); !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
}

func TestNewSelectsSource(t *testing.T) {
	if _, err := New(Options{}); !errors.Is(err, ErrNoSource) {
		t.Errorf("expected ErrNoSource, got %v", err)
	}
	f, err := New(Options{InputPath: "dump.jsonl"})
	if _, ok := f.(*FileFetcher); err != nil || !ok {
		t.Errorf("expected FileFetcher, got %T, %v", f, err)
	}
	f, err = New(Options{BaseURL: "http://localhost:8080", InputPath: "dump.jsonl"})
	if _, ok := f.(*HTTPFetcher); err != nil || !ok {
		t.Errorf("expected HTTPFetcher, got %T, %v", f, err)
	}
}
