package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/RyanGreenup/simple-c7-mcp-sub005/internal/store"
)

// upstreamTokens is the default token budget requested from the
// upstream mirror's llms.txt endpoint.
const upstreamTokens = 10000

// fetcher wraps outbound HTTP for document fetches and the optional
// upstream mirror. Upstream calls are rate limited so a burst of
// fetch-library-docs requests cannot hammer the mirror.
type fetcher struct {
	client   *http.Client
	maxBytes int64
	upstream string
	limiter  *rate.Limiter
	logger   *zap.Logger
}

func newFetcher(cfg Config, logger *zap.Logger) *fetcher {
	return &fetcher{
		client:   &http.Client{Timeout: cfg.FetchTimeout},
		maxBytes: cfg.MaxContentBytes,
		upstream: strings.TrimRight(cfg.UpstreamURL, "/"),
		limiter:  rate.NewLimiter(rate.Limit(1), 5),
		logger:   logger,
	}
}

// fetch GETs rawURL and returns the body plus the detected source type.
func (f *fetcher) fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, "", fmt.Errorf("%w: url must be http or https", ErrInvalidRequest)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	req.Header.Set("Accept", "text/markdown, text/plain;q=0.9, */*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("%w: %s returned %d", ErrFetchFailed, rawURL, resp.StatusCode)
	}

	body, err := readCapped(resp.Body, f.maxBytes)
	if err != nil {
		return nil, "", err
	}
	return body, detectSourceType(resp.Header.Get("Content-Type"), u.Path), nil
}

// fetchUpstream pulls a library snapshot from the configured mirror:
// GET <base><context7ID>/llms.txt?tokens=N[&topic=...].
func (f *fetcher) fetchUpstream(ctx context.Context, context7ID, topic string) ([]byte, string, error) {
	if f.upstream == "" {
		return nil, "", ErrUpstreamDisabled
	}
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, "", err
	}

	q := url.Values{}
	q.Set("tokens", strconv.Itoa(upstreamTokens))
	if topic != "" {
		q.Set("topic", topic)
	}
	fullURL := f.upstream + context7ID + "/llms.txt?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	req.Header.Set("Accept", "text/plain")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, "", fmt.Errorf("%w: upstream has no library %s", store.ErrLibraryNotFound, context7ID)
	case resp.StatusCode != http.StatusOK:
		return nil, "", fmt.Errorf("%w: mirror returned %d", ErrUpstreamUnavailable, resp.StatusCode)
	}

	body, err := readCapped(resp.Body, f.maxBytes)
	if err != nil {
		return nil, "", err
	}
	return body, fullURL, nil
}

func readCapped(r io.Reader, max int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrFetchFailed, err)
	}
	if int64(len(body)) > max {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrContentTooLarge, max)
	}
	return body, nil
}

// detectSourceType maps the Content-Type header, then the URL
// extension, to a source type label.
func detectSourceType(contentType, urlPath string) string {
	if contentType != "" {
		if mt, _, err := mime.ParseMediaType(contentType); err == nil {
			switch mt {
			case "text/markdown", "text/x-markdown":
				return "markdown"
			case "text/html", "application/xhtml+xml":
				return "html"
			case "text/plain":
				return "markdown"
			}
		}
	}
	switch strings.ToLower(path.Ext(urlPath)) {
	case ".md", ".markdown", ".mdx", ".txt":
		return "markdown"
	case ".html", ".htm":
		return "html"
	}
	return "unknown"
}

// MirrorLibrary ensures context7ID exists locally by pulling a snapshot
// from the upstream mirror. If the library is absent a minimal record
// is derived from the id segments; the snapshot is then ingested as a
// document. topic narrows the upstream selection.
func (s *Service) MirrorLibrary(ctx context.Context, context7ID, topic string) (*store.Library, error) {
	ctx, span := tracer.Start(ctx, "ingest.MirrorLibrary")
	defer span.End()
	span.SetAttributes(attribute.String("context7.id", context7ID))

	if err := store.ValidateContext7ID(context7ID); err != nil {
		return nil, err
	}

	var created bool
	lib, err := s.store.GetLibraryByContext7ID(ctx, context7ID)
	switch {
	case err == nil:
		// Already mirrored once; refresh only when empty.
		docs, derr := s.store.ListDocuments(ctx, lib.ID)
		if derr != nil {
			return nil, derr
		}
		if len(docs) > 0 {
			return lib, nil
		}
	case errors.Is(err, store.ErrLibraryNotFound):
		lib = libraryFromContext7ID(context7ID)
		if err = s.store.CreateLibrary(ctx, lib); err != nil {
			return nil, err
		}
		created = true
	default:
		return nil, err
	}

	// A library record without documents is useless; undo the create
	// if the snapshot never lands.
	rollback := func() {
		if !created {
			return
		}
		if derr := s.store.DeleteLibrary(ctx, lib.ID); derr != nil {
			s.logger.Warn("failed to roll back mirrored library",
				zap.String("library_id", lib.ID), zap.Error(derr))
		}
	}

	body, sourceURL, err := s.fetcher.fetchUpstream(ctx, context7ID, topic)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		rollback()
		return nil, err
	}

	content, err := s.normalize(body)
	if err != nil {
		rollback()
		return nil, err
	}

	doc := &store.Document{
		ID:         uuid.NewString(),
		LibraryID:  lib.ID,
		Title:      titleFromContent(content, context7ID),
		Source:     sourceURL,
		SourceType: "markdown",
	}
	if err := s.ingest(ctx, doc, content, ""); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		rollback()
		return nil, err
	}

	s.logger.Info("library mirrored from upstream",
		zap.String("context7_id", context7ID),
		zap.String("library_id", lib.ID),
	)
	return lib, nil
}

// libraryFromContext7ID derives a minimal library record from a
// canonical id like /npm/react or /websites/solidjs_solid-start.
func libraryFromContext7ID(context7ID string) *store.Library {
	segs := strings.Split(strings.TrimPrefix(context7ID, "/"), "/")
	eco := segs[0]
	name := segs[len(segs)-1]
	lang := "unknown"
	switch eco {
	case "npm":
		lang = "JavaScript"
	case "pypi":
		lang = "Python"
	case "go", "golang":
		lang = "Go"
	case "crates":
		lang = "Rust"
	case "maven":
		lang = "Java"
	case "rubygems":
		lang = "Ruby"
	}
	return &store.Library{
		Name:        name,
		Language:    lang,
		Ecosystem:   eco,
		Context7ID:  context7ID,
		Description: fmt.Sprintf("Mirrored from upstream Context7 id %s", context7ID),
	}
}
