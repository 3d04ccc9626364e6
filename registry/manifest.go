package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tsawler/go-extern/buffer"
)

// Extern declaration manifest, the YAML form a pipeline build emits:
//
//	externs:
//	  - name: add_one
//	    params:
//	      - {kind: buffer, type: int32, rank: 1}
//	      - {kind: buffer, type: int32, rank: 1, out: true}
//
// Scalar parameters omit rank; buffer parameters declare it explicitly.

type manifestFile struct {
	Externs []manifestExtern `yaml:"externs"`
}

type manifestExtern struct {
	Name   string          `yaml:"name"`
	Params []manifestParam `yaml:"params"`
}

type manifestParam struct {
	Kind string `yaml:"kind"`
	Type string `yaml:"type"`
	Rank int    `yaml:"rank"`
	Out  bool   `yaml:"out"`
}

// LoadManifest reads a YAML extern-declaration manifest and registers every
// declaration. All declarations are parsed and validated before any is
// registered, so a malformed manifest never partially registers.
func (r *Registry) LoadManifest(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read manifest: %v", err)
	}
	return r.LoadManifestBytes(data)
}

// LoadManifestBytes registers every declaration in an in-memory manifest
func (r *Registry) LoadManifestBytes(data []byte) error {
	var file manifestFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse manifest: %v", err)
	}

	sigs := make([]Signature, 0, len(file.Externs))
	for i, decl := range file.Externs {
		sig, err := decl.signature()
		if err != nil {
			return fmt.Errorf("manifest extern %d (%q): %v", i, decl.Name, err)
		}
		sigs = append(sigs, sig)
	}

	for _, sig := range sigs {
		if err := r.Register(sig.Name, sig); err != nil {
			return err
		}
	}
	return nil
}

// signature converts a manifest declaration to a Signature
func (d manifestExtern) signature() (Signature, error) {
	if d.Name == "" {
		return Signature{}, fmt.Errorf("missing name")
	}

	params := make([]Param, 0, len(d.Params))
	for i, mp := range d.Params {
		elem, err := ParseElementType(mp.Type)
		if err != nil {
			return Signature{}, fmt.Errorf("parameter %d: %v", i, err)
		}

		switch mp.Kind {
		case "buffer":
			p := BufferParam(elem, mp.Rank)
			p.Out = mp.Out
			params = append(params, p)
		case "scalar":
			if mp.Rank != 0 {
				return Signature{}, fmt.Errorf("parameter %d: scalar declares rank %d", i, mp.Rank)
			}
			if mp.Out {
				return Signature{}, fmt.Errorf("parameter %d: scalars are passed by value and cannot be out", i)
			}
			params = append(params, ScalarParam(elem))
		default:
			return Signature{}, fmt.Errorf("parameter %d: unknown kind %q", i, mp.Kind)
		}
	}

	return NewSignature(d.Name, params...), nil
}

// ParseElementType parses the manifest spelling of an element type
func ParseElementType(s string) (buffer.ElementType, error) {
	for elem := buffer.Int8; elem <= buffer.Float64; elem++ {
		if elem.String() == s {
			return elem, nil
		}
	}
	return 0, fmt.Errorf("unknown element type %q", s)
}
