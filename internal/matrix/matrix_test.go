package matrix

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testUUID = "5f0c8d3e-9a51-4c1a-b7f0-2f6d0d7e6a11"

func writeMatrix(t *testing.T, csvBody, metaBody string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "m.csv")
	if err := os.WriteFile(path, []byte(csvBody), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "m.yaml"), []byte(metaBody), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeMatrix(t,
		"entity_id,as_of_date,label,score\n"+
			"1,2024-02-01,1,0.9\n"+
			"2,2024-01-01,0,0.4\n"+
			"3,2024-02-01,,0.1\n",
		"matrix_uuid: "+testUUID+"\nmatrix_type: test\nas_of_date_frequency: 1month\n",
	)

	m, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if !m.IsTest() || m.UUID() != testUUID {
		t.Errorf("Unexpected metadata %+v", m.Metadata())
	}
	if m.Metadata().AsOfDateFrequency != "1month" {
		t.Errorf("AsOfDateFrequency = %q", m.Metadata().AsOfDateFrequency)
	}
	if len(m.Keys()) != 3 || m.Keys()[1].EntityID != 2 {
		t.Errorf("Keys = %+v", m.Keys())
	}
	if !math.IsNaN(m.Labels()[2]) {
		t.Errorf("Empty label should be NaN, got %v", m.Labels()[2])
	}
	if m.LabeledCount() != 2 {
		t.Errorf("LabeledCount = %d, want 2", m.LabeledCount())
	}
	if len(m.Scores()) != 3 || m.Scores()[0] != 0.9 {
		t.Errorf("Scores = %v", m.Scores())
	}

	dates := m.AsOfDates()
	want := []time.Time{
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	if len(dates) != 2 || !dates[0].Equal(want[0]) || !dates[1].Equal(want[1]) {
		t.Errorf("AsOfDates = %v, want %v", dates, want)
	}
}

func TestLoadFile_NoScoreColumn(t *testing.T) {
	path := writeMatrix(t,
		"entity_id,as_of_date,label\n1,2024-01-01,1\n",
		"matrix_uuid: "+testUUID+"\nmatrix_type: train\nas_of_date_frequency: 1d\n",
	)
	m, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if m.Scores() != nil {
		t.Errorf("Scores = %v, want nil", m.Scores())
	}
	if m.IsTest() {
		t.Error("train matrix reported as test")
	}
}

func TestLoadMetadata_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad uuid", "matrix_uuid: nope\nmatrix_type: test\nas_of_date_frequency: 1d\n"},
		{"bad type", "matrix_uuid: " + testUUID + "\nmatrix_type: holdout\nas_of_date_frequency: 1d\n"},
		{"missing frequency", "matrix_uuid: " + testUUID + "\nmatrix_type: test\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeMatrix(t, "entity_id,as_of_date,label\n", tt.body)
			if _, err := LoadFile(path); err == nil {
				t.Error("Expected metadata validation error")
			}
		})
	}
}

func TestReadCSV_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"missing label column", "entity_id,as_of_date\n1,2024-01-01\n"},
		{"bad entity", "entity_id,as_of_date,label\nx,2024-01-01,1\n"},
		{"bad date", "entity_id,as_of_date,label\n1,yesterday,1\n"},
		{"bad label", "entity_id,as_of_date,label\n1,2024-01-01,yes\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, _, err := ReadCSV(strings.NewReader(tt.body))
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("err = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestNewInMemory_LengthMismatch(t *testing.T) {
	meta := Metadata{UUID: testUUID, MatrixType: TypeTest, AsOfDateFrequency: "1d"}
	keys := []EntityDate{{EntityID: 1}}
	if _, err := NewInMemory(meta, keys, []float64{1, 0}, nil); err == nil {
		t.Error("Expected label length error")
	}
	if _, err := NewInMemory(meta, keys, []float64{1}, []float64{0.1, 0.2}); err == nil {
		t.Error("Expected score length error")
	}
}

func TestMetadataPath(t *testing.T) {
	if got := MetadataPath("/x/y/abc.csv"); got != "/x/y/abc.yaml" {
		t.Errorf("MetadataPath = %q", got)
	}
}
