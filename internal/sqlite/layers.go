package sqlite

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/concord/internal/paths"
	"github.com/mesh-intelligence/concord/pkg/types"
)

// layersFile holds the layer schema inside the data directory.
const layersFile = paths.LayersFileName

// layersDoc is the YAML shape of layers.yaml.
type layersDoc struct {
	Layers []types.Layer `yaml:"layers"`
}

// ParseLayers decodes a layer schema document.
func ParseLayers(data []byte) (*types.Schema, error) {
	var doc layersDoc
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode layers: %w: %w", types.ErrSchema, err)
	}
	return types.NewSchema(doc.Layers...)
}

// loadLayers reads the layer schema. A missing file is an empty schema.
func loadLayers(path string) (*types.Schema, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return types.NewSchema()
	}
	if err != nil {
		return nil, err
	}
	return ParseLayers(data)
}

// writeLayers atomically writes the layer schema.
func writeLayers(path string, schema *types.Schema) error {
	data, err := yaml.Marshal(layersDoc{Layers: schema.Layers()})
	if err != nil {
		return fmt.Errorf("encode layers: %w", err)
	}
	return atomicWrite(path, func(w *bufio.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// LayerSchema returns the layer schema.
func (b *Backend) LayerSchema(context.Context) (*types.Schema, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.attached {
		return nil, types.ErrBackendDetached
	}
	return b.schema, nil
}

// PutLayers replaces the layer schema and persists layers.yaml. Layer
// schemas are written immediately regardless of the sync strategy.
func (b *Backend) PutLayers(_ context.Context, schema *types.Schema) error {
	if schema == nil {
		return types.ErrInvalidData
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.attached {
		return types.ErrBackendDetached
	}
	if err := writeLayers(filepath.Join(b.dataDir, layersFile), schema); err != nil {
		return fmt.Errorf("%w: %w", types.ErrIO, err)
	}
	b.schema = schema
	return nil
}
