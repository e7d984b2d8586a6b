// Package storage maps output format names to sinks.
package storage

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"scrapekit/models"

	"gopkg.in/yaml.v3"
)

// DefaultFormat is used when neither a format nor an output extension is given
const DefaultFormat = "json"

// SaveFunc persists records. output is a destination path or DSN-like
// target; empty means the sink's default destination.
type SaveFunc func(ctx context.Context, records []models.Record, output string) error

// Dispatcher maps format names to sinks
type Dispatcher struct {
	mu    sync.RWMutex
	sinks map[string]SaveFunc
	out   io.Writer
}

// NewDispatcher creates a dispatcher with the json, csv and yaml sinks
// registered, writing to stdout when no output path is given
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{
		sinks: make(map[string]SaveFunc),
		out:   os.Stdout,
	}
	d.sinks["json"] = d.fileSink(writeJSON)
	d.sinks["csv"] = d.fileSink(writeCSV)
	d.sinks["yaml"] = d.fileSink(writeYAML)
	d.sinks["yml"] = d.sinks["yaml"]
	return d
}

// SetWriter redirects built-in sinks called without an output path
func (d *Dispatcher) SetWriter(w io.Writer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.out = w
}

// Register adds or replaces the sink for format
func (d *Dispatcher) Register(format string, fn SaveFunc) error {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		return fmt.Errorf("%w: format name is empty", models.ErrConfiguration)
	}
	if fn == nil {
		return fmt.Errorf("%w: format %q has no save function", models.ErrConfiguration, format)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.sinks[format]; ok {
		log.Printf("Warning: Replacing sink for format %q\n", format)
	}
	d.sinks[format] = fn
	return nil
}

// Resolve returns the sink for format
func (d *Dispatcher) Resolve(format string) (SaveFunc, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	fn, ok := d.sinks[strings.ToLower(format)]
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %s)", models.ErrUnknownFormat, format, strings.Join(d.formatsLocked(), ", "))
	}
	return fn, nil
}

// Save resolves format and hands records to its sink. Sink failures wrap
// models.ErrSave.
func (d *Dispatcher) Save(ctx context.Context, format string, records []models.Record, output string) error {
	fn, err := d.Resolve(format)
	if err != nil {
		return err
	}
	if records == nil {
		records = []models.Record{}
	}
	if err := fn(ctx, records, output); err != nil {
		return fmt.Errorf("%w: format %s: %w", models.ErrSave, format, err)
	}
	return nil
}

// Formats lists registered format names
func (d *Dispatcher) Formats() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.formatsLocked()
}

func (d *Dispatcher) formatsLocked() []string {
	names := make([]string, 0, len(d.sinks))
	for name := range d.sinks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolveFormat picks the format for a run: the explicit format, else the
// output extension, else DefaultFormat
func ResolveFormat(format, output string) string {
	if f := strings.TrimSpace(format); f != "" {
		return strings.ToLower(f)
	}
	if ext := strings.TrimPrefix(filepath.Ext(output), "."); ext != "" {
		return strings.ToLower(ext)
	}
	return DefaultFormat
}

type encodeFunc func(w io.Writer, records []models.Record) error

// fileSink writes to output when set, otherwise to the dispatcher writer
func (d *Dispatcher) fileSink(encode encodeFunc) SaveFunc {
	return func(_ context.Context, records []models.Record, output string) error {
		if output == "" {
			d.mu.RLock()
			w := d.out
			d.mu.RUnlock()
			return encode(w, records)
		}

		if dir := filepath.Dir(output); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
		}
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		if err := encode(f, records); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("failed to close output file: %w", err)
		}
		log.Printf("Saved %d records to %s\n", len(records), output)
		return nil
	}
}

func writeJSON(w io.Writer, records []models.Record) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("failed to encode json: %w", err)
	}
	return nil
}

// writeCSV writes one row per record under the union of all keys. Missing
// values are empty cells.
func writeCSV(w io.Writer, records []models.Record) error {
	header := models.Keys(records)
	cw := csv.NewWriter(w)
	if len(header) > 0 {
		if err := cw.Write(header); err != nil {
			return fmt.Errorf("failed to write csv header: %w", err)
		}
	}
	row := make([]string, len(header))
	for _, r := range records {
		for i, k := range header {
			row[i] = FormatValue(r[k])
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeYAML(w io.Writer, records []models.Record) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("failed to encode yaml: %w", err)
	}
	return enc.Close()
}

// FormatValue renders a record value as a flat cell. Nested values are
// encoded as JSON.
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	case int, int32, int64, float32, float64, bool:
		return fmt.Sprint(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
