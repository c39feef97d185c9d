// Package output persists downloaded snapshots as timestamped JSON files.
package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	filePrefix = "results-"
	fileSuffix = ".json"
)

var ErrNotFound = errors.New("result file not found")

// FileName returns the result file name for t, e.g.
// results-2024-05-01T09-30-00-123Z.json. The timestamp is t in UTC with
// millisecond precision and every ':' and '.' replaced by '-'.
func FileName(t time.Time) string {
	stamp := t.UTC().Format("2006-01-02T15:04:05.000Z")
	stamp = strings.NewReplacer(":", "-", ".", "-").Replace(stamp)
	return filePrefix + stamp + fileSuffix
}

type File struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

type Store struct {
	dir string
}

// NewStore does not touch the filesystem; the directory is created on the
// first Save.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) Dir() string { return s.dir }

// Save writes payload as pretty-printed JSON to the file named for at and
// returns its path. A payload that is not valid JSON is stored as a JSON
// string.
func (s *Store) Save(at time.Time, payload []byte) (string, error) {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	content, err := prettyJSON(payload)
	if err != nil {
		return "", err
	}

	path := filepath.Join(s.dir, FileName(at))
	if err := os.WriteFile(path, content, 0644); err != nil {
		return "", fmt.Errorf("write result: %w", err)
	}
	return path, nil
}

// Open returns the content of a previously saved result file.
func (s *Store) Open(name string) ([]byte, error) {
	path, err := s.filePath(name)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("read result: %w", err)
	}
	return content, nil
}

// List returns saved result files, newest first. A missing directory is an
// empty list.
func (s *Store) List() ([]File, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []File{}, nil
		}
		return nil, fmt.Errorf("list results: %w", err)
	}

	files := make([]File, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !isResultName(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, File{Name: e.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}

	// Names embed the timestamp, so lexical order is chronological.
	sort.Slice(files, func(i, j int) bool {
		return files[i].Name > files[j].Name
	})
	return files, nil
}

func (s *Store) filePath(name string) (string, error) {
	if name != filepath.Base(name) || strings.Contains(name, "..") || !isResultName(name) {
		return "", fmt.Errorf("%w: invalid name %s", ErrNotFound, name)
	}
	return filepath.Join(s.dir, name), nil
}

func isResultName(name string) bool {
	return strings.HasPrefix(name, filePrefix) && strings.HasSuffix(name, fileSuffix)
}

func prettyJSON(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	if json.Valid(payload) {
		if err := json.Indent(&buf, payload, "", "  "); err != nil {
			return nil, fmt.Errorf("format result: %w", err)
		}
		return buf.Bytes(), nil
	}

	data, err := json.MarshalIndent(string(payload), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return data, nil
}
