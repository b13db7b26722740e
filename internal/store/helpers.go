package store

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/BTreeMap/ListingPipe/internal/models"
)

// Constants for file-backed store configuration
const (
	// DefaultDirPermissions defines the default permissions for state directories
	DefaultDirPermissions = 0755
	// DefaultFilePermissions defines the default permissions for store files
	DefaultFilePermissions = 0644
)

// tailChunk is the read size used when searching backwards for a newline.
const tailChunk = 4096

// openAppendFile opens path for appending, creating it and its directory if
// needed, and repairs a torn trailing record left by a crash.
func openAppendFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, DefaultFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	if err := repairTail(f); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// repairTail truncates f back to just after its last '\n'. A file whose last
// byte is not a newline ends in a partial record from an interrupted write.
func repairTail(f *os.File) error {
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", f.Name(), err)
	}
	size := info.Size()
	if size == 0 {
		return nil
	}

	last := make([]byte, 1)
	if _, err := f.ReadAt(last, size-1); err != nil {
		return fmt.Errorf("failed to read tail of %s: %w", f.Name(), err)
	}
	if last[0] == '\n' {
		return nil
	}

	keep := int64(0)
	buf := make([]byte, tailChunk)
	for end := size; end > 0; {
		start := end - tailChunk
		if start < 0 {
			start = 0
		}
		chunk := buf[:end-start]
		if _, err := f.ReadAt(chunk, start); err != nil && err != io.EOF {
			return fmt.Errorf("failed to scan %s: %w", f.Name(), err)
		}
		if i := bytes.LastIndexByte(chunk, '\n'); i >= 0 {
			keep = start + int64(i) + 1
			break
		}
		end = start
	}

	slog.Warn("store: truncating partial trailing record", "file", f.Name(), "size", size, "keep", keep)
	if err := f.Truncate(keep); err != nil {
		return fmt.Errorf("failed to truncate %s: %w", f.Name(), err)
	}
	return f.Sync()
}

// appendRecord writes one complete record with a single write and syncs it.
func appendRecord(f *os.File, record []byte) error {
	if len(record) == 0 || record[len(record)-1] != '\n' {
		return fmt.Errorf("record must end with a newline")
	}
	if _, err := f.Write(record); err != nil {
		return fmt.Errorf("failed to append to %s: %w", f.Name(), err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", f.Name(), err)
	}
	return nil
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// listingArgs returns the column values of a listings row in schema order:
// id, title, price, location, posted_at, post_time_str, image_urls, url,
// shipping_enabled, description, search_term, search_location, scraped_at.
func listingArgs(l models.Listing) ([]interface{}, error) {
	images := l.ImageURLs
	if images == nil {
		images = []string{}
	}
	imagesJSON, err := json.Marshal(images)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal image urls: %w", err)
	}

	var price interface{}
	if l.Price != nil {
		price = *l.Price
	}
	var shipping interface{}
	if l.ShippingEnabled != nil {
		shipping = *l.ShippingEnabled
	}

	return []interface{}{
		l.ID, l.Title, price, l.Location, l.PostedAt.UTC(), nilIfEmpty(l.PostTimeHint),
		string(imagesJSON), l.URL, shipping, nilIfEmpty(l.Description),
		l.SearchTerm, l.SearchLocation, l.ScrapedAt.UTC(),
	}, nil
}

// scanListing scans a listings row selected in schema order.
func scanListing(rows *sql.Rows) (models.Listing, error) {
	var l models.Listing
	var price sql.NullFloat64
	var shipping sql.NullBool
	var hint, description sql.NullString
	var imagesJSON string
	var postedAt, scrapedAt time.Time

	err := rows.Scan(
		&l.ID, &l.Title, &price, &l.Location, &postedAt, &hint,
		&imagesJSON, &l.URL, &shipping, &description,
		&l.SearchTerm, &l.SearchLocation, &scrapedAt,
	)
	if err != nil {
		return l, fmt.Errorf("scan listing failed: %w", err)
	}
	if price.Valid {
		p := price.Float64
		l.Price = &p
	}
	if shipping.Valid {
		b := shipping.Bool
		l.ShippingEnabled = &b
	}
	l.PostTimeHint = hint.String
	l.Description = description.String
	l.PostedAt = postedAt.UTC()
	l.ScrapedAt = scrapedAt.UTC()
	if err := json.Unmarshal([]byte(imagesJSON), &l.ImageURLs); err != nil {
		return l, fmt.Errorf("unmarshal image urls for %s: %w", l.ID, err)
	}
	return l, nil
}

// listingColumns is the listings column list in schema order.
const listingColumns = `id, title, price, location, posted_at, post_time_str, image_urls, url,
	shipping_enabled, description, search_term, search_location, scraped_at`
