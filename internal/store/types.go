// Package store persists libraries, documents, and their embedded
// chunks. Library and document records live in a JSON catalog; chunk
// text and vectors live in chromem-go collections, one per library.
package store

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Library statuses.
const (
	LibraryStatusActive     = "active"
	LibraryStatusDeprecated = "deprecated"
	LibraryStatusArchived   = "archived"
)

// Document statuses. A document stays pending while its chunks are
// being written; only active documents are visible to queries.
const (
	DocumentStatusPending = "pending"
	DocumentStatusActive  = "active"
)

// Sentinel errors. Transports map these to stable error codes.
var (
	ErrLibraryNotFound     = errors.New("library not found")
	ErrDuplicateName       = errors.New("library name already exists in ecosystem")
	ErrDuplicateContext7ID = errors.New("context7 id already exists")
	ErrLibraryInUse        = errors.New("library has documents")
	ErrDocumentNotFound    = errors.New("document not found")
	ErrDimensionMismatch   = errors.New("embedding dimension mismatch")
	ErrInvalidLibrary      = errors.New("invalid library")
	ErrStoreClosed         = errors.New("store is closed")
)

// Library is a named documentation corpus for one piece of software.
// (Ecosystem, Name) and Context7ID are unique across the store.
type Library struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Language         string    `json:"language"`
	Ecosystem        string    `json:"ecosystem"`
	Context7ID       string    `json:"context7_id"`
	Description      string    `json:"description,omitempty"`
	ShortDescription string    `json:"short_description,omitempty"`
	Aliases          []string  `json:"aliases,omitempty"`
	Keywords         []string  `json:"keywords,omitempty"`
	Category         string    `json:"category,omitempty"`
	HomepageURL      string    `json:"homepage_url,omitempty"`
	RepositoryURL    string    `json:"repository_url,omitempty"`
	Author           string    `json:"author,omitempty"`
	License          string    `json:"license,omitempty"`
	Status           string    `json:"status"`
	PopularityScore  int       `json:"popularity_score"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Document is one ingested source (an upload, a fetched URL, or a
// mirror snapshot) belonging to exactly one library.
type Document struct {
	ID         string    `json:"id"`
	LibraryID  string    `json:"library_id"`
	Title      string    `json:"title,omitempty"`
	Source     string    `json:"source"`
	SourceType string    `json:"source_type"`
	Status     string    `json:"status"`
	ChunkCount int       `json:"chunk_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Chunk is one retrievable unit of a document, carrying its embedding.
type Chunk struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	LibraryID  string `json:"library_id"`
	Title      string `json:"title,omitempty"`
	Text       string `json:"text"`
	// Vector stays off the wire; it is persistence detail.
	Vector       []float32 `json:"-"`
	ChunkIndex   int       `json:"chunk_index"`
	ChunkTotal   int       `json:"chunk_total"`
	Source       string    `json:"source"`
	SourceType   string    `json:"source_type"`
	CreatedAt    time.Time `json:"created_at"`
	MetadataJSON string    `json:"metadata_json,omitempty"`
}

// ScoredChunk is a search hit with its cosine similarity.
type ScoredChunk struct {
	Chunk Chunk
	Score float32
}

// ChunkID returns the deterministic id of a document's i-th chunk.
func ChunkID(documentID string, index int) string {
	return fmt.Sprintf("%s-chunk-%d", documentID, index)
}

// Two or three path segments: /npm/react, /websites/solidjs_solid-start.
var context7IDPattern = regexp.MustCompile(`^(/[a-z0-9][a-z0-9._-]*){2,3}$`)

var (
	whitespaceRun  = regexp.MustCompile(`\s+`)
	trimPunct      = regexp.MustCompile(`^[^a-z0-9]+|[^a-z0-9]+$`)
	invalidIDChars = regexp.MustCompile(`[^a-z0-9._-]`)
)

// NormalizeName lowercases, collapses whitespace into hyphens, and
// strips surrounding punctuation. "Next.js" becomes "next.js",
// "Solid Start" becomes "solid-start".
func NormalizeName(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = whitespaceRun.ReplaceAllString(s, "-")
	s = trimPunct.ReplaceAllString(s, "")
	s = invalidIDChars.ReplaceAllString(s, "-")
	return s
}

// DeriveContext7ID builds the canonical /<ecosystem>/<normalized-name> id.
func DeriveContext7ID(ecosystem, name string) string {
	return "/" + NormalizeName(ecosystem) + "/" + NormalizeName(name)
}

// ValidateLibrary checks the fields a caller must supply. Context7ID
// may be empty; the store derives it on create.
func ValidateLibrary(lib *Library) error {
	if lib.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidLibrary)
	}
	if len(lib.Name) > 128 {
		return fmt.Errorf("%w: name exceeds 128 bytes", ErrInvalidLibrary)
	}
	for _, r := range lib.Name {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("%w: name contains control characters", ErrInvalidLibrary)
		}
	}
	if lib.Language == "" {
		return fmt.Errorf("%w: language is required", ErrInvalidLibrary)
	}
	if lib.Ecosystem == "" {
		return fmt.Errorf("%w: ecosystem is required", ErrInvalidLibrary)
	}
	switch lib.Status {
	case "", LibraryStatusActive, LibraryStatusDeprecated, LibraryStatusArchived:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidLibrary, lib.Status)
	}
	if lib.Context7ID != "" {
		if err := ValidateContext7ID(lib.Context7ID); err != nil {
			return err
		}
	}
	return nil
}

// ValidateContext7ID checks the /{ecosystem}/{name} form.
func ValidateContext7ID(id string) error {
	if !context7IDPattern.MatchString(id) {
		return fmt.Errorf("%w: context7 id %q must match /{ecosystem}/{name}", ErrInvalidLibrary, id)
	}
	return nil
}
