package linkstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/v0xg/astarcheck/internal/config"
	"github.com/v0xg/astarcheck/internal/errs"
)

// Fetcher retrieves the raw markup of a page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)
}

// HTTPFetcher fetches markup with a plain GET.
type HTTPFetcher struct {
	Client    *http.Client
	UserAgent string
}

// Fetch returns the response body. Transport errors and non-2xx statuses
// are fetch failures.
func (f HTTPFetcher) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errs.Wrap(errs.FetchFailure, "build request for "+url, err)
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.FetchFailure, "fetch "+url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, errs.New(errs.FetchFailure, fmt.Sprintf("fetch %s: status %d", url, resp.StatusCode))
	}
	return resp.Body, nil
}

// Store loads the link structure from its cache file, scraping it when the
// cache is missing or a refresh is forced.
type Store struct {
	Path            string
	Fetcher         Fetcher
	Markup          Markup
	Policy          Policy
	IncludeTopLevel bool
	Logger          zerolog.Logger
}

// NewStore builds a store from the links configuration.
func NewStore(cfg config.LinksConfig, logger zerolog.Logger) *Store {
	return &Store{
		Path:            cfg.CachePath,
		Fetcher:         HTTPFetcher{Client: &http.Client{Timeout: cfg.FetchTimeout}},
		Markup:          DefaultMarkup,
		Policy:          Policy(cfg.DuplicatePolicy),
		IncludeTopLevel: cfg.IncludeTopLevel,
		Logger:          logger,
	}
}

// Load returns the cached structure, or scrapes source when there is no
// cache or refresh is set. A fetch failure aborts the load.
func (s *Store) Load(ctx context.Context, source string, refresh bool) (*Structure, error) {
	if !refresh {
		st, err := s.Read()
		switch {
		case err == nil:
			s.Logger.Info().Str("path", s.Path).Int("links", st.Len()).Msg("Reading link structure from cache")
			return st, nil
		case !errors.Is(err, fs.ErrNotExist):
			return nil, err
		}
	}
	return s.Scrape(ctx, source)
}

// Read deserializes the cache file.
func (s *Store) Read() (*Structure, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, err
	}
	st := New(s.Policy)
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.Path, err)
	}
	return st, nil
}

// Scrape fetches source, extracts the structure and persists it.
func (s *Store) Scrape(ctx context.Context, source string) (*Structure, error) {
	start := time.Now()

	fetcher := s.Fetcher
	if fetcher == nil {
		fetcher = HTTPFetcher{}
	}
	body, err := fetcher.Fetch(ctx, source)
	if err != nil {
		if errs.CodeOf(err) != errs.FetchFailure {
			err = errs.Wrap(errs.FetchFailure, "fetch "+source, err)
		}
		return nil, err
	}
	defer body.Close()

	markup := s.Markup
	if markup.Container == "" {
		markup = DefaultMarkup
	}
	st, err := Extract(body, markup, s.Policy, s.IncludeTopLevel)
	if err != nil {
		return nil, errs.Wrap(errs.FetchFailure, "extract links from "+source, err)
	}

	s.Logger.Info().
		Dur("elapsed", time.Since(start)).
		Int("links", st.Len()).
		Msg("Built link structure")
	for _, e := range st.Edges() {
		s.Logger.Debug().Str("child", e.Child).Str("parent", e.Parent).Msg("Link edge")
	}

	if err := s.Write(st); err != nil {
		return nil, err
	}
	s.Logger.Info().Str("path", s.Path).Msg("Link structure saved")
	return st, nil
}

// Write persists st with two-space indentation, replacing the cache
// atomically.
func (s *Store) Write(st *Structure) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	data, err := indent(raw)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".linkstructure-*.json")
	if err != nil {
		return fmt.Errorf("write link structure: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write link structure: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write link structure: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path); err != nil {
		return fmt.Errorf("write link structure: %w", err)
	}
	return nil
}

func indent(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
