package catalog

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleCatalogYAML = `
products:
  - id: llc-standard
    label: LLC Standard
    steps:
      - step_code: personal_info
        position: 1
        dossier_status_on_approval: FORM_SUBMITTED
      - step_code: company_creation
        position: 2
        dossier_status_on_approval: LLC_ACCEPTED
steps:
  - code: personal_info
    label: Personal information
    type: CLIENT
    position: 1
    fields:
      - name: first_name
        label: First name
        kind: text
        required: true
    document_types:
      - passport
  - code: company_creation
    label: Company creation
    type: ADMIN
    position: 2
  - code: wait_48h
    label: Wait 48 hours
    type: TIMER
    position: 3
    timer_delay: 48h
document_types:
  - id: passport
    label: Passport
    allowed_extensions: [".pdf", ".jpg", ".png"]
    max_file_size_mb: 10
`

func writeCatalogFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path
}

func TestLoadFile_parsesDefinition(t *testing.T) {
	dir := t.TempDir()
	path := writeCatalogFile(t, dir, "llc.yaml", sampleCatalogYAML)

	def, err := NewLoader().LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if len(def.Products) != 1 {
		t.Fatalf("Products length = %d, want 1", len(def.Products))
	}
	if def.Products[0].ID != "llc-standard" {
		t.Errorf("Products[0].ID = %q, want %q", def.Products[0].ID, "llc-standard")
	}
	if len(def.Products[0].Steps) != 2 {
		t.Errorf("Products[0].Steps length = %d, want 2", len(def.Products[0].Steps))
	}
	if len(def.Steps) != 3 {
		t.Fatalf("Steps length = %d, want 3", len(def.Steps))
	}
	if def.Steps[2].TimerDelay.Std() != 48*time.Hour {
		t.Errorf("Steps[2].TimerDelay = %v, want 48h", def.Steps[2].TimerDelay)
	}
	if len(def.DocumentTypes) != 1 {
		t.Fatalf("DocumentTypes length = %d, want 1", len(def.DocumentTypes))
	}
	if def.DocumentTypes[0].MaxFileSizeMB != 10 {
		t.Errorf("MaxFileSizeMB = %d, want 10", def.DocumentTypes[0].MaxFileSizeMB)
	}
	if def.Checksum == "" {
		t.Error("Checksum should not be empty")
	}
	if def.SourceFile != path {
		t.Errorf("SourceFile = %q, want %q", def.SourceFile, path)
	}
}

func TestLoadFile_checksumChangesWithContent(t *testing.T) {
	dir := t.TempDir()
	pathA := writeCatalogFile(t, dir, "a.yaml", sampleCatalogYAML)
	pathB := writeCatalogFile(t, dir, "b.yaml", sampleCatalogYAML+"\n# trailing comment\n")

	loader := NewLoader()
	defA, err := loader.LoadFile(pathA)
	if err != nil {
		t.Fatalf("LoadFile(a) error = %v", err)
	}
	defB, err := loader.LoadFile(pathB)
	if err != nil {
		t.Fatalf("LoadFile(b) error = %v", err)
	}
	if defA.Checksum == defB.Checksum {
		t.Error("checksums of different content should differ")
	}
}

func TestLoadFile_missingFile(t *testing.T) {
	_, err := NewLoader().LoadFile(filepath.Join(t.TempDir(), "no-such.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadFile_invalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeCatalogFile(t, dir, "bad.yaml", "products: [unclosed")

	_, err := NewLoader().LoadFile(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoadAll_scansRecursively(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "nested")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeCatalogFile(t, dir, "one.yaml", sampleCatalogYAML)
	writeCatalogFile(t, sub, "two.yml", sampleCatalogYAML)
	writeCatalogFile(t, dir, "notes.txt", "not a catalog")

	defs, err := NewLoader().LoadAll([]string{dir})
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if len(defs) != 2 {
		t.Errorf("LoadAll() returned %d definitions, want 2", len(defs))
	}
}

func TestLoadAll_missingDirectory(t *testing.T) {
	_, err := NewLoader().LoadAll([]string{filepath.Join(t.TempDir(), "missing")})
	if err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestLoadAll_propagatesParseError(t *testing.T) {
	dir := t.TempDir()
	writeCatalogFile(t, dir, "bad.yaml", ":\n  - not valid yaml{")

	_, err := NewLoader().LoadAll([]string{dir})
	if err == nil {
		t.Fatal("expected error for unparseable file")
	}
}
