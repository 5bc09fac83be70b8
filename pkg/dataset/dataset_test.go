package dataset

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestLoadCSV(t *testing.T) {
	path := writeFile(t, "sales.csv", "region,amount\nnorth,10\nsouth,20\n")

	table, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if table.Name != "sales.csv" {
		t.Errorf("Name = %q, want sales.csv", table.Name)
	}
	if len(table.Columns) != 2 || table.Columns[0] != "region" {
		t.Errorf("Columns = %v, want [region amount]", table.Columns)
	}
	if len(table.Rows) != 2 {
		t.Errorf("got %d rows, want 2", len(table.Rows))
	}
}

func TestLoadTSV(t *testing.T) {
	path := writeFile(t, "sales.tsv", "region\tamount\nnorth\t10\n")

	table, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(table.Columns) != 2 {
		t.Fatalf("Columns = %v, want 2 columns", table.Columns)
	}
}

func TestLoadStripsBOM(t *testing.T) {
	path := writeFile(t, "bom.csv", "\uFEFFname,score\na,1\n")

	table, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if table.Columns[0] != "name" {
		t.Errorf("first column = %q, want name", table.Columns[0])
	}
}

func TestLoadEmptyFile(t *testing.T) {
	path := writeFile(t, "empty.csv", "")
	if _, err := Load(path); err == nil {
		t.Fatal("Load() on empty file should fail")
	}
}

func TestDescribe(t *testing.T) {
	path := writeFile(t, "wide.csv", "a,b,c,d,e,f,g\n1,2,3,4,5,6,7\n")

	desc, err := Describe(path)
	if err != nil {
		t.Fatalf("Describe() error: %v", err)
	}
	if !strings.Contains(desc, "wide.csv") {
		t.Errorf("description missing file name: %q", desc)
	}
	if !strings.Contains(desc, "1 rows x 7 columns") {
		t.Errorf("description missing shape: %q", desc)
	}
	if strings.Contains(desc, "f") && strings.Contains(desc, "Columns: a, b, c, d, e, ...") == false {
		t.Errorf("description should preview only leading columns: %q", desc)
	}
}

func TestDescribeNoFile(t *testing.T) {
	desc, err := Describe("")
	if err != nil {
		t.Fatalf("Describe(\"\") error: %v", err)
	}
	if desc != NoFileDescription {
		t.Errorf("Describe(\"\") = %q, want placeholder", desc)
	}
}

func TestSummarize(t *testing.T) {
	path := writeFile(t, "mix.csv", "city,pop\noslo,10\nbergen,20\ntromso,\n")

	s, err := Summarize(path)
	if err != nil {
		t.Fatalf("Summarize() error: %v", err)
	}
	if s.RowCount != 3 || s.ColumnCount != 2 {
		t.Errorf("shape = %dx%d, want 3x2", s.RowCount, s.ColumnCount)
	}
	if s.Missing != 1 {
		t.Errorf("Missing = %d, want 1", s.Missing)
	}
	if len(s.Categorical) != 1 || s.Categorical[0] != "city" {
		t.Errorf("Categorical = %v, want [city]", s.Categorical)
	}
	if len(s.Numeric) != 1 {
		t.Fatalf("Numeric = %v, want one column", s.Numeric)
	}
	pop := s.Numeric[0]
	if pop.Count != 2 || pop.Mean != 15 || pop.Min != 10 || pop.Max != 20 {
		t.Errorf("pop stats = %+v", pop)
	}
}
