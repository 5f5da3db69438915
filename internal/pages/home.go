package pages

import (
	"context"
	"fmt"
	"regexp"

	"github.com/rs/zerolog"

	"github.com/v0xg/astarcheck/internal/browser"
	"github.com/v0xg/astarcheck/internal/config"
	"github.com/v0xg/astarcheck/internal/crawl"
	"github.com/v0xg/astarcheck/internal/errs"
	"github.com/v0xg/astarcheck/internal/linkstore"
	"github.com/v0xg/astarcheck/internal/logging"
)

var homeTitle = regexp.MustCompile(`(?i)Astar Financial`)

// HomePage checks that every navigation link on the home page opens.
type HomePage struct {
	page   browser.Page
	cfg    *config.Config
	store  *linkstore.Store
	logger zerolog.Logger
}

// NewHomePage returns the home page object. A nil store is built from cfg.
func NewHomePage(page browser.Page, cfg *config.Config, store *linkstore.Store, logger zerolog.Logger) *HomePage {
	if store == nil {
		store = linkstore.NewStore(cfg.Links, logging.Component(logger, "linkstore"))
	}
	return &HomePage{page: page, cfg: cfg, store: store, logger: logging.Component(logger, "home")}
}

// Navigate opens the base URL and checks the title.
func (h *HomePage) Navigate(ctx context.Context) error {
	h.logger.Info().Str("url", h.cfg.BaseURL).Msg("Starting navigation")
	if err := h.page.Navigate(ctx, h.cfg.BaseURL, browser.WaitLoad, h.cfg.DefaultTimeout); err != nil {
		h.logger.Error().Err(err).Msg("Navigation failed")
		return errs.Wrap(errs.Navigation, "navigate to homepage "+h.cfg.BaseURL, err)
	}
	title, err := h.page.Title(ctx)
	if err != nil {
		return errs.Wrap(errs.Navigation, "read homepage title", err)
	}
	if !homeTitle.MatchString(title) {
		return errs.New(errs.Navigation, fmt.Sprintf("homepage title %q does not match %s", title, homeTitle))
	}
	h.logger.Info().Str("title", title).Msg("Navigation successful")
	return nil
}

// VerifyLinks loads the link structure and verifies each link from the
// current page, which becomes the baseline. The structure is re-scraped when
// refresh or links.refresh is set.
func (h *HomePage) VerifyLinks(ctx context.Context, refresh bool) (*crawl.Report, error) {
	st, err := h.store.Load(ctx, h.cfg.LinkSource(), refresh || h.cfg.Links.Refresh)
	if err != nil {
		return nil, err
	}
	opts, err := crawl.OptionsFromConfig(h.cfg.Crawl)
	if err != nil {
		return nil, err
	}
	baseline, err := h.page.URL(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.Navigation, "read baseline url", err)
	}

	v := crawl.NewVerifier(h.page, baseline, opts, logging.Component(h.logger, "crawl"))
	return v.Run(ctx, st.Edges())
}
