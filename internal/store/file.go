package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/ListingPipe/internal/models"
)

// Default file names inside the state directory.
const (
	DefaultSeenFile   = "seen_ids.txt"
	DefaultOutputFile = "listings.jsonl"
)

// ErrInvalidID is returned for ids that cannot be stored in line-oriented files.
var ErrInvalidID = errors.New("id is empty or contains control characters")

// FileSeenStore is an append-only seen set. Each line is
// "id<TAB>first_seen_at" in RFC 3339; a line holding only an id is also read.
type FileSeenStore struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

var _ SeenRepo = (*FileSeenStore)(nil)

// NewFileSeenStore opens (or creates) the seen file at path.
func NewFileSeenStore(path string) (*FileSeenStore, error) {
	f, err := openAppendFile(path)
	if err != nil {
		slog.Error("FileSeenStore: open failed", "path", path, "error", err)
		return nil, err
	}
	return &FileSeenStore{path: path, f: f}, nil
}

func (s *FileSeenStore) LoadSeen(ctx context.Context) ([]models.SeenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", s.path, err)
	}
	defer f.Close()

	var records []models.SeenRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for line := 1; scanner.Scan(); line++ {
		if line%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		id, ts, _ := strings.Cut(text, "\t")
		rec := models.SeenRecord{ID: id}
		if ts != "" {
			t, err := time.Parse(time.RFC3339Nano, ts)
			if err != nil {
				slog.Warn("FileSeenStore.LoadSeen: bad timestamp, keeping id", "path", s.path, "line", line, "error", err)
			} else {
				rec.FirstSeenAt = t.UTC()
			}
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}
	return records, nil
}

func (s *FileSeenStore) RecordSeen(_ context.Context, rec models.SeenRecord) error {
	if !models.ValidID(rec.ID) {
		return fmt.Errorf("%w: %q", ErrInvalidID, rec.ID)
	}
	line := rec.ID + "\t" + rec.FirstSeenAt.UTC().Format(time.RFC3339Nano) + "\n"

	s.mu.Lock()
	defer s.mu.Unlock()
	return appendRecord(s.f, []byte(line))
}

func (s *FileSeenStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// JSONLSink writes one JSON object per line.
type JSONLSink struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

var (
	_ ListingSink     = (*JSONLSink)(nil)
	_ ListingReplayer = (*JSONLSink)(nil)
)

// NewJSONLSink opens (or creates) the JSON Lines output at path.
func NewJSONLSink(path string) (*JSONLSink, error) {
	f, err := openAppendFile(path)
	if err != nil {
		slog.Error("JSONLSink: open failed", "path", path, "error", err)
		return nil, err
	}
	return &JSONLSink{path: path, f: f}, nil
}

func (s *JSONLSink) Persist(_ context.Context, l models.Listing) error {
	if l.ImageURLs == nil {
		l.ImageURLs = []string{}
	}
	data, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("failed to marshal listing %s: %w", l.ID, err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	return appendRecord(s.f, data)
}

func (s *JSONLSink) PersistedIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", s.path, err)
	}
	defer f.Close()

	var ids []string
	reader := bufio.NewReader(f)
	for line := 1; ; line++ {
		raw, err := reader.ReadBytes('\n')
		if len(bytes.TrimSpace(raw)) > 0 {
			var rec struct {
				ID string `json:"id"`
			}
			if jerr := json.Unmarshal(raw, &rec); jerr != nil || rec.ID == "" {
				slog.Warn("JSONLSink.PersistedIDs: skipping malformed line", "path", s.path, "line", line)
			} else {
				ids = append(ids, rec.ID)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
		}
	}
	return ids, nil
}

func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// CSVHeader is the column set of CSVSink output.
var CSVHeader = []string{
	"id", "title", "price", "location", "post_time_str", "posted_at", "scraped_at",
	"link", "image_url", "shipping_enabled", "search_term", "search_location", "description",
}

// CSVSink writes one CSV row per listing, with a header when the file is new.
// Embedded line breaks are flattened so every record is exactly one line.
type CSVSink struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

var (
	_ ListingSink     = (*CSVSink)(nil)
	_ ListingReplayer = (*CSVSink)(nil)
)

// NewCSVSink opens (or creates) the CSV output at path.
func NewCSVSink(path string) (*CSVSink, error) {
	f, err := openAppendFile(path)
	if err != nil {
		slog.Error("CSVSink: open failed", "path", path, "error", err)
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.Size() == 0 {
		header, err := encodeCSVRow(CSVHeader)
		if err == nil {
			err = appendRecord(f, header)
		}
		if err != nil {
			f.Close()
			return nil, err
		}
	}
	return &CSVSink{path: path, f: f}, nil
}

func (s *CSVSink) Persist(_ context.Context, l models.Listing) error {
	price := ""
	if l.Price != nil {
		price = strconv.FormatFloat(*l.Price, 'f', -1, 64)
	}
	shipping := ""
	if l.ShippingEnabled != nil {
		shipping = strconv.FormatBool(*l.ShippingEnabled)
	}
	row, err := encodeCSVRow([]string{
		l.ID, l.Title, price, l.Location, l.PostTimeHint,
		l.PostedAt.UTC().Format(time.RFC3339), l.ScrapedAt.UTC().Format(time.RFC3339),
		l.URL, strings.Join(l.ImageURLs, "|"), shipping,
		l.SearchTerm, l.SearchLocation, l.Description,
	})
	if err != nil {
		return fmt.Errorf("failed to encode listing %s: %w", l.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return appendRecord(s.f, row)
}

func (s *CSVSink) PersistedIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", s.path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	var ids []string
	for first := true; ; first = false {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			slog.Warn("CSVSink.PersistedIDs: skipping malformed row", "path", s.path, "error", err)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
		}
		if first && len(rec) > 0 && rec[0] == CSVHeader[0] {
			continue
		}
		if len(rec) > 0 && rec[0] != "" {
			ids = append(ids, rec[0])
		}
	}
	return ids, nil
}

func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

func encodeCSVRow(fields []string) ([]byte, error) {
	flat := make([]string, len(fields))
	for i, f := range fields {
		flat[i] = lineBreaks.Replace(f)
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(flat); err != nil {
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
