package query

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/RyanGreenup/simple-c7-mcp-sub005/internal/store"
)

const (
	weightName       = 0.5
	weightRelevance  = 0.3
	weightPopularity = 0.2

	// Candidates within this distance of the top score are returned as
	// alternatives so the caller can disambiguate.
	tieWindow       = 0.02
	maxAlternatives = 5
)

// ResolveRequest maps a free-form library name to a canonical id. The
// query is the user's actual question; it disambiguates same-named
// libraries.
type ResolveRequest struct {
	LibraryName string
	Query       string
}

// Match is one scored candidate.
type Match struct {
	Library *store.Library
	Score   float64
}

// ResolveResult is the selected library plus close runners-up.
type ResolveResult struct {
	Selected     *store.Library
	Score        float64
	Alternatives []Match
}

// ResolveLibraryID finds the best-matching library for a name.
// Scoring is a weighted sum of name proximity (0.5), query relevance
// (0.3), and popularity (0.2). Deterministic for a fixed store snapshot.
func (s *Service) ResolveLibraryID(ctx context.Context, req ResolveRequest) (*ResolveResult, error) {
	ctx, span := tracer.Start(ctx, "query.ResolveLibraryID")
	defer span.End()
	span.SetAttributes(attribute.String("library.name", req.LibraryName))

	norm := store.NormalizeName(req.LibraryName)
	if norm == "" {
		return nil, fmt.Errorf("%w: library name is required", ErrInvalidRequest)
	}

	libs, err := s.store.ListLibraries(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	type candidate struct {
		lib       *store.Library
		nameScore float64
	}
	var candidates []candidate
	for _, lib := range libs {
		if score := nameProximity(norm, lib); score > 0 {
			candidates = append(candidates, candidate{lib: lib, nameScore: score})
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no library matches %q", store.ErrLibraryNotFound, req.LibraryName)
	}

	relevance := make([]float64, len(candidates))
	if strings.TrimSpace(req.Query) != "" {
		queryVec, err := s.embedder.EmbedQuery(ctx, req.Query)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("embedding query: %w", err)
		}
		texts := make([]string, len(candidates))
		for i, c := range candidates {
			texts[i] = candidateText(c.lib)
		}
		vecs, err := s.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("embedding candidates: %w", err)
		}
		for i, vec := range vecs {
			relevance[i] = clamp01(cosine(queryVec, vec))
		}
	}

	matches := make([]Match, len(candidates))
	for i, c := range candidates {
		popularity := clamp01(float64(c.lib.PopularityScore) / 100)
		matches[i] = Match{
			Library: c.lib,
			Score:   weightName*c.nameScore + weightRelevance*relevance[i] + weightPopularity*popularity,
		}
	}

	// Equal scores order by context7 id so resolution is stable.
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Library.Context7ID < matches[j].Library.Context7ID
	})

	top := matches[0]
	var alternatives []Match
	for _, m := range matches[1:] {
		if top.Score-m.Score > tieWindow || len(alternatives) == maxAlternatives {
			break
		}
		alternatives = append(alternatives, m)
	}

	s.resolveCounter.Add(ctx, 1)
	span.SetAttributes(
		attribute.String("selected", top.Library.Context7ID),
		attribute.Float64("score", top.Score),
		attribute.Int("alternatives", len(alternatives)),
	)
	s.logger.Debug("resolve-library-id",
		zap.String("name", req.LibraryName),
		zap.String("selected", top.Library.Context7ID),
		zap.Float64("score", top.Score),
	)

	return &ResolveResult{
		Selected:     top.Library,
		Score:        top.Score,
		Alternatives: alternatives,
	}, nil
}

// nameProximity scores how well a normalized name matches a library:
// exact name 1.0, exact alias 0.9, substring on name or keywords scaled
// by coverage ratio. Zero means no match.
func nameProximity(norm string, lib *store.Library) float64 {
	libNorm := store.NormalizeName(lib.Name)
	if libNorm == norm {
		return 1.0
	}
	for _, alias := range lib.Aliases {
		if store.NormalizeName(alias) == norm {
			return 0.9
		}
	}

	best := substringCoverage(norm, libNorm)
	for _, kw := range lib.Keywords {
		if score := substringCoverage(norm, store.NormalizeName(kw)); score > best {
			best = score
		}
	}
	// Also match against the context7 id tail, which catches names like
	// "solidstart" against /websites/solidjs_solid-start.
	if idx := strings.LastIndex(lib.Context7ID, "/"); idx >= 0 {
		tail := store.NormalizeName(strings.ReplaceAll(lib.Context7ID[idx+1:], "_", "-"))
		if score := substringCoverage(norm, tail); score > best {
			best = score
		}
	}
	return best
}

// substringCoverage returns the covered fraction when one normalized
// string contains the other, after dropping hyphens so "solidstart"
// matches "solid-start".
func substringCoverage(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	ca := strings.ReplaceAll(a, "-", "")
	cb := strings.ReplaceAll(b, "-", "")
	switch {
	case ca == cb:
		return 0.95
	case strings.Contains(cb, ca):
		return float64(len(ca)) / float64(len(cb))
	case strings.Contains(ca, cb):
		return float64(len(cb)) / float64(len(ca))
	default:
		return 0
	}
}

func candidateText(lib *store.Library) string {
	parts := []string{lib.Name, lib.Description}
	parts = append(parts, lib.Keywords...)
	return strings.TrimSpace(strings.Join(parts, " "))
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
