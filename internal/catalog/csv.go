package catalog

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type CSVSource struct {
	path   string
	header []string
}

func OpenCSV(path string) (*CSVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("catalog %s is empty", path)
		}
		return nil, fmt.Errorf("read catalog header %s: %w", path, err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	return &CSVSource{path: path, header: header}, nil
}

func (s *CSVSource) Name() string {
	return filepath.Base(s.path)
}

func (s *CSVSource) Fields(context.Context) ([]string, error) {
	return append([]string(nil), s.header...), nil
}

func (s *CSVSource) Rows(ctx context.Context, idField, linkField string, fn func(Row) error) error {
	linkIdx := s.column(linkField)
	if linkIdx < 0 {
		return &SchemaError{Layer: s.Name(), Field: linkField, Available: s.header}
	}
	idIdx := -1
	if strings.TrimSpace(idField) != "" {
		idIdx = s.column(idField)
		if idIdx < 0 {
			return &SchemaError{Layer: s.Name(), Field: idField, Available: s.header}
		}
	}

	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open catalog %s: %w", s.path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	if _, err := r.Read(); err != nil {
		return fmt.Errorf("read catalog header %s: %w", s.path, err)
	}

	position := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read catalog %s: %w", s.path, err)
		}
		position++
		if linkIdx >= len(rec) || strings.TrimSpace(rec[linkIdx]) == "" {
			continue
		}
		id := strconv.Itoa(position)
		if idIdx >= 0 {
			id = ""
			if idIdx < len(rec) {
				id = strings.TrimSpace(rec[idIdx])
			}
		}
		if err := fn(Row{ID: id, Link: rec[linkIdx], Position: position}); err != nil {
			return err
		}
	}
}

func (s *CSVSource) Close() error {
	return nil
}

func (s *CSVSource) column(name string) int {
	for i, h := range s.header {
		if h == name {
			return i
		}
	}
	return -1
}
