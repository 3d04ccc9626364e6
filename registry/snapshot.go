package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// SnapshotFormat defines the serialization format for registry snapshots
type SnapshotFormat int

const (
	FormatJSON SnapshotFormat = iota
	FormatProto
)

func (sf SnapshotFormat) String() string {
	switch sf {
	case FormatJSON:
		return "JSON"
	case FormatProto:
		return "Proto"
	default:
		return "Unknown"
	}
}

// snapshotVersion identifies the snapshot schema
const snapshotVersion = "1"

// snapshotModel is the serialized form of a registry
type snapshotModel struct {
	Version   string        `json:"version"`
	CreatedAt time.Time     `json:"created_at"`
	Externs   []snapshotSig `json:"externs"`
}

type snapshotSig struct {
	Name   string          `json:"name"`
	Params []snapshotParam `json:"params"`
}

type snapshotParam struct {
	Kind string `json:"kind"`
	Type string `json:"type"`
	Rank int    `json:"rank"`
	Out  bool   `json:"out,omitempty"`
}

// SnapshotSaver serializes a registry's declared surface so an ahead-of-time
// pipeline build can be handed the registered extern contracts
type SnapshotSaver struct {
	format SnapshotFormat
}

// NewSnapshotSaver creates a snapshot saver for the specified format
func NewSnapshotSaver(format SnapshotFormat) *SnapshotSaver {
	return &SnapshotSaver{
		format: format,
	}
}

// Save writes the registry's signatures to path
func (ss *SnapshotSaver) Save(r *Registry, path string) error {
	model := buildSnapshotModel(r)

	var data []byte
	var err error
	switch ss.format {
	case FormatJSON:
		data, err = json.MarshalIndent(model, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal snapshot: %v", err)
		}
	case FormatProto:
		data, err = marshalSnapshotProto(model)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported snapshot format: %s", ss.format)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot file: %v", err)
	}
	return nil
}

// Load reads a snapshot from path and registers its signatures into r
func (ss *SnapshotSaver) Load(r *Registry, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read snapshot file: %v", err)
	}

	var model snapshotModel
	switch ss.format {
	case FormatJSON:
		if err := json.Unmarshal(data, &model); err != nil {
			return fmt.Errorf("failed to parse snapshot: %v", err)
		}
	case FormatProto:
		model, err = unmarshalSnapshotProto(data)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported snapshot format: %s", ss.format)
	}

	if model.Version != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version %q", model.Version)
	}

	for _, ssig := range model.Externs {
		decl := manifestExtern{Name: ssig.Name}
		for _, p := range ssig.Params {
			decl.Params = append(decl.Params, manifestParam(p))
		}
		sig, err := decl.signature()
		if err != nil {
			return fmt.Errorf("snapshot extern %q: %v", ssig.Name, err)
		}
		if err := r.Register(sig.Name, sig); err != nil {
			return err
		}
	}
	return nil
}

// buildSnapshotModel captures the registry contents in serializable form
func buildSnapshotModel(r *Registry) snapshotModel {
	model := snapshotModel{
		Version:   snapshotVersion,
		CreatedAt: time.Now().UTC(),
	}
	for _, name := range r.Names() {
		sig, err := r.Lookup(name)
		if err != nil {
			continue // Racing unregister cannot happen; lookup of a listed name succeeds
		}
		ssig := snapshotSig{Name: name}
		for _, p := range sig.Params {
			ssig.Params = append(ssig.Params, snapshotParam{
				Kind: p.Kind.String(),
				Type: p.Elem.String(),
				Rank: p.Rank,
				Out:  p.Out,
			})
		}
		model.Externs = append(model.Externs, ssig)
	}
	return model
}

// marshalSnapshotProto serializes the snapshot as a protobuf Struct. The
// binary format is a well-known-type payload, so any protobuf toolchain can
// read it without this module's schema.
func marshalSnapshotProto(model snapshotModel) ([]byte, error) {
	externs := make([]interface{}, 0, len(model.Externs))
	for _, ssig := range model.Externs {
		params := make([]interface{}, 0, len(ssig.Params))
		for _, p := range ssig.Params {
			params = append(params, map[string]interface{}{
				"kind": p.Kind,
				"type": p.Type,
				"rank": float64(p.Rank),
				"out":  p.Out,
			})
		}
		externs = append(externs, map[string]interface{}{
			"name":   ssig.Name,
			"params": params,
		})
	}

	st, err := structpb.NewStruct(map[string]interface{}{
		"version":    model.Version,
		"created_at": model.CreatedAt.Format(time.RFC3339Nano),
		"externs":    externs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build snapshot struct: %v", err)
	}

	data, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %v", err)
	}
	return data, nil
}

// unmarshalSnapshotProto parses the protobuf Struct snapshot payload
func unmarshalSnapshotProto(data []byte) (snapshotModel, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return snapshotModel{}, fmt.Errorf("failed to parse snapshot: %v", err)
	}

	fields := st.AsMap()
	model := snapshotModel{}
	if v, ok := fields["version"].(string); ok {
		model.Version = v
	}
	if v, ok := fields["created_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			model.CreatedAt = t
		}
	}

	externs, _ := fields["externs"].([]interface{})
	for i, raw := range externs {
		entry, ok := raw.(map[string]interface{})
		if !ok {
			return snapshotModel{}, fmt.Errorf("snapshot extern %d is malformed", i)
		}
		ssig := snapshotSig{}
		ssig.Name, _ = entry["name"].(string)

		params, _ := entry["params"].([]interface{})
		for j, rawParam := range params {
			pm, ok := rawParam.(map[string]interface{})
			if !ok {
				return snapshotModel{}, fmt.Errorf("snapshot extern %d parameter %d is malformed", i, j)
			}
			p := snapshotParam{}
			p.Kind, _ = pm["kind"].(string)
			p.Type, _ = pm["type"].(string)
			if rank, ok := pm["rank"].(float64); ok {
				p.Rank = int(rank)
			}
			p.Out, _ = pm["out"].(bool)
			ssig.Params = append(ssig.Params, p)
		}
		model.Externs = append(model.Externs, ssig)
	}
	return model, nil
}
