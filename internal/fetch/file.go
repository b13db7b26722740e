package fetch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BTreeMap/ListingPipe/internal/models"
)

// FileFetcher reads a JSON Lines dump produced by an external scraper. Each
// line is one raw record; records tagged with a different search term or
// location than the query are skipped, untagged records match every query.
type FileFetcher struct {
	path string
	now  func() time.Time
}

func NewFileFetcher(path string) *FileFetcher {
	return &FileFetcher{path: path, now: time.Now}
}

func (f *FileFetcher) Fetch(ctx context.Context, q models.Query) ([]models.RawListing, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", q, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", q, err)
	}
	// The dump's modification time is the best available scrape time.
	scrapedAt := info.ModTime().UTC()
	if scrapedAt.IsZero() {
		scrapedAt = f.now().UTC()
	}

	var out []models.RawListing
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for line := 1; scanner.Scan(); line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var raw models.RawListing
		if err := json.Unmarshal([]byte(text), &raw); err != nil {
			slog.Warn("FileFetcher.Fetch: skipping malformed line", "path", f.path, "line", line, "error", err)
			continue
		}
		if !matches(raw.SearchTerm, q.SearchTerm) || !matches(raw.SearchLocation, q.Location) {
			continue
		}
		out = append(out, raw)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("fetch %s: read %s: %w", q, f.path, err)
	}
	return stamp(out, q, scrapedAt), nil
}

func matches(tag, want string) bool {
	tag = strings.TrimSpace(tag)
	return tag == "" || strings.EqualFold(tag, strings.TrimSpace(want))
}
