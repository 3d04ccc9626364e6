package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tsawler/go-extern/buffer"
)

const sampleManifest = `
externs:
  - name: add_one
    params:
      - {kind: buffer, type: int32, rank: 1}
      - {kind: buffer, type: int32, rank: 1, out: true}
  - name: scale
    params:
      - {kind: buffer, type: float32, rank: 2}
      - {kind: scalar, type: float32}
      - {kind: buffer, type: float32, rank: 2, out: true}
`

// TestLoadManifest tests loading a well-formed manifest
func TestLoadManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "externs.yaml")
	if err := os.WriteFile(path, []byte(sampleManifest), 0644); err != nil {
		t.Fatalf("Failed to write manifest: %v", err)
	}

	r := NewRegistry()
	if err := r.LoadManifest(path); err != nil {
		t.Fatalf("LoadManifest failed: %v", err)
	}

	if r.Len() != 2 {
		t.Fatalf("Expected 2 registered externs, got %d", r.Len())
	}

	sig, err := r.Lookup("scale")
	if err != nil {
		t.Fatalf("Lookup scale failed: %v", err)
	}
	expected := NewSignature("scale",
		BufferParam(buffer.Float32, 2),
		ScalarParam(buffer.Float32),
		OutBufferParam(buffer.Float32, 2),
	)
	if !sig.Equal(expected) {
		t.Errorf("Loaded signature %s; expected %s", sig, expected)
	}
}

// TestLoadManifestMalformed tests rejection of malformed manifests
func TestLoadManifestMalformed(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
	}{
		{
			"bad_yaml",
			"externs: [",
		},
		{
			"missing_name",
			"externs:\n  - params: [{kind: scalar, type: int32}]\n",
		},
		{
			"unknown_kind",
			"externs:\n  - name: f\n    params: [{kind: magic, type: int32}]\n",
		},
		{
			"unknown_type",
			"externs:\n  - name: f\n    params: [{kind: scalar, type: complex128}]\n",
		},
		{
			"scalar_with_rank",
			"externs:\n  - name: f\n    params: [{kind: scalar, type: int32, rank: 1}]\n",
		},
		{
			"scalar_out",
			"externs:\n  - name: f\n    params: [{kind: scalar, type: int32, out: true}]\n",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			r := NewRegistry()
			err := r.LoadManifestBytes([]byte(test.manifest))
			if err == nil {
				t.Error("Expected manifest error")
			}
			if r.Len() != 0 {
				t.Errorf("Malformed manifest must not register anything, got %d", r.Len())
			}
		})
	}
}

// TestLoadManifestNoPartialRegistration tests that a manifest with a late
// malformed entry registers nothing
func TestLoadManifestNoPartialRegistration(t *testing.T) {
	manifest := `
externs:
  - name: good
    params: [{kind: scalar, type: int32}]
  - name: bad
    params: [{kind: scalar, type: nonsense}]
`
	r := NewRegistry()
	if err := r.LoadManifestBytes([]byte(manifest)); err == nil {
		t.Fatal("Expected manifest error")
	}
	if r.Len() != 0 {
		t.Errorf("Expected no registrations after malformed manifest, got %d", r.Len())
	}
}

// TestParseElementType tests the manifest type spellings
func TestParseElementType(t *testing.T) {
	for elem := buffer.Int8; elem <= buffer.Float64; elem++ {
		parsed, err := ParseElementType(elem.String())
		if err != nil {
			t.Errorf("ParseElementType(%q) failed: %v", elem.String(), err)
		}
		if parsed != elem {
			t.Errorf("ParseElementType(%q) = %v; expected %v", elem.String(), parsed, elem)
		}
	}

	if _, err := ParseElementType("void"); err == nil {
		t.Error("Expected error for unknown element type")
	}
}
