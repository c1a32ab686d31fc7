package matrix

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrMalformed is returned for matrix files that cannot be parsed.
var ErrMalformed = errors.New("malformed matrix")

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

var validate = validator.New()

// MetadataPath returns the sidecar path for a matrix file: the same name
// with a .yaml extension.
func MetadataPath(csvPath string) string {
	return strings.TrimSuffix(csvPath, filepath.Ext(csvPath)) + ".yaml"
}

// LoadFile reads a matrix CSV with header entity_id,as_of_date,label and an
// optional score column, plus its YAML metadata sidecar.
func LoadFile(csvPath string) (*InMemory, error) {
	meta, err := LoadMetadata(MetadataPath(csvPath))
	if err != nil {
		return nil, err
	}

	f, err := os.Open(csvPath)
	if err != nil {
		return nil, fmt.Errorf("open matrix: %w", err)
	}
	defer f.Close()

	keys, labels, scores, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", csvPath, err)
	}
	return NewInMemory(meta, keys, labels, scores)
}

// LoadMetadata reads and validates a metadata sidecar.
func LoadMetadata(path string) (Metadata, error) {
	var meta Metadata
	data, err := os.ReadFile(path)
	if err != nil {
		return meta, fmt.Errorf("read matrix metadata: %w", err)
	}
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("parse matrix metadata %s: %w", path, err)
	}
	if err := validate.Struct(meta); err != nil {
		return meta, fmt.Errorf("invalid matrix metadata %s: %w", path, err)
	}
	return meta, nil
}

// ReadCSV parses matrix rows. scores is nil when the file has no score
// column. An empty or NaN label is a missing label.
func ReadCSV(r io.Reader) (keys []EntityDate, labels, scores []float64, err error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: reading header: %v", ErrMalformed, err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(strings.ToLower(h))] = i
	}
	for _, required := range []string{"entity_id", "as_of_date", "label"} {
		if _, ok := cols[required]; !ok {
			return nil, nil, nil, fmt.Errorf("%w: missing column %q", ErrMalformed, required)
		}
	}
	scoreCol, hasScore := cols["score"]

	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, nil, nil, fmt.Errorf("%w: line %d: %v", ErrMalformed, line, err)
		}

		id, err := strconv.ParseInt(strings.TrimSpace(rec[cols["entity_id"]]), 10, 64)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("%w: line %d: entity_id: %v", ErrMalformed, line, err)
		}
		date, err := parseDate(rec[cols["as_of_date"]])
		if err != nil {
			return nil, nil, nil, fmt.Errorf("%w: line %d: %v", ErrMalformed, line, err)
		}
		label, err := parseOptionalFloat(rec[cols["label"]])
		if err != nil {
			return nil, nil, nil, fmt.Errorf("%w: line %d: label: %v", ErrMalformed, line, err)
		}

		keys = append(keys, EntityDate{EntityID: id, AsOfDate: date})
		labels = append(labels, label)

		if hasScore {
			score, err := parseOptionalFloat(rec[scoreCol])
			if err != nil {
				return nil, nil, nil, fmt.Errorf("%w: line %d: score: %v", ErrMalformed, line, err)
			}
			scores = append(scores, score)
		}
	}
	if hasScore && scores == nil {
		scores = []float64{}
	}
	return keys, labels, scores, nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized as_of_date %q", s)
}

func parseOptionalFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "nan") || strings.EqualFold(s, "null") {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}
