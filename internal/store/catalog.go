package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// catalogVersion guards the on-disk format.
const catalogVersion = 1

// catalogData is the persisted shape of the library/document catalog.
// Chunks are not here; they live in the vector collections.
type catalogData struct {
	Version       int                  `json:"version"`
	EmbedderModel string               `json:"embedder_model"`
	EmbeddingDim  int                  `json:"embedding_dim"`
	Libraries     map[string]*Library  `json:"libraries"`
	Documents     map[string]*Document `json:"documents"`
}

// catalog holds library and document records with atomic file
// persistence. Callers hold the store mutex; the catalog itself is not
// locked.
type catalog struct {
	path string
	data catalogData
}

func openCatalog(path, embedderModel string, embeddingDim int) (*catalog, error) {
	c := &catalog{
		path: path,
		data: catalogData{
			Version:       catalogVersion,
			EmbedderModel: embedderModel,
			EmbeddingDim:  embeddingDim,
			Libraries:     make(map[string]*Library),
			Documents:     make(map[string]*Document),
		},
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}

	var loaded catalogData
	if err := json.Unmarshal(raw, &loaded); err != nil {
		return nil, fmt.Errorf("parsing catalog %s: %w", path, err)
	}
	if loaded.Version != catalogVersion {
		return nil, fmt.Errorf("unsupported catalog version %d in %s", loaded.Version, path)
	}
	if loaded.EmbeddingDim != embeddingDim {
		return nil, fmt.Errorf("%w: store was created with dimension %d, configured %d",
			ErrDimensionMismatch, loaded.EmbeddingDim, embeddingDim)
	}
	if loaded.Libraries == nil {
		loaded.Libraries = make(map[string]*Library)
	}
	if loaded.Documents == nil {
		loaded.Documents = make(map[string]*Document)
	}
	// Model changes are tolerated as long as the dimension matches;
	// record the current one.
	loaded.EmbedderModel = embedderModel

	c.data = loaded
	return c, nil
}

// save writes the catalog atomically (temp file, then rename).
func (c *catalog) save() error {
	raw, err := json.MarshalIndent(c.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding catalog: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("writing catalog: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing catalog: %w", err)
	}
	return nil
}

func (c *catalog) libraryByEcosystemName(ecosystem, name string) *Library {
	for _, lib := range c.data.Libraries {
		if lib.Ecosystem == ecosystem && lib.Name == name {
			return lib
		}
	}
	return nil
}

func (c *catalog) libraryByContext7ID(id string) *Library {
	for _, lib := range c.data.Libraries {
		if lib.Context7ID == id {
			return lib
		}
	}
	return nil
}

func (c *catalog) documentsOf(libraryID string) []*Document {
	var docs []*Document
	for _, doc := range c.data.Documents {
		if doc.LibraryID == libraryID {
			docs = append(docs, doc)
		}
	}
	return docs
}

func catalogPath(storePath string) string {
	return filepath.Join(storePath, "catalog.json")
}
