// Package extract fetches one target page in an authenticated browsing
// context and pulls structured catalog fields from it.
package extract

import (
	"context"
	"strings"
	"time"

	"enricher/internal/core/session"
	"enricher/internal/logger"
	"enricher/internal/store"

	"github.com/playwright-community/playwright-go"
)

type Service struct {
	log        *logger.Logger
	navTimeout time.Duration
}

func NewService(navTimeout time.Duration) *Service {
	return &Service{log: logger.New("ExtractService"), navTimeout: navTimeout}
}

// Extract loads targetURL on the job's session, applies the profile's
// extraction rules and returns the payload. Failures come back as typed
// *ItemError values; the caller records them on the staging ledger.
func (s *Service) Extract(ctx context.Context, sess *session.Session, profile store.Profile, targetURL string) (store.Payload, error) {
	select {
	case <-ctx.Done():
		return store.Payload{}, NewItemError(KindNavigation, "cancelled before fetch")
	default:
	}

	page, err := sess.NewPage()
	if err != nil {
		return store.Payload{}, NewItemError(KindNavigation, "open page: %v", err)
	}
	defer page.Close()

	resp, err := s.navigate(page, targetURL)
	if err != nil {
		return store.Payload{}, err
	}
	if resp != nil && resp.Status() >= 400 {
		return store.Payload{}, NewItemError(KindHTTPError, "HTTP %d for %s", resp.Status(), targetURL)
	}

	// Login wall detected mid-crawl: establish the session on the spot,
	// then retry the target once.
	if sess.Mode == session.ModeInteractive && session.LoginPromptVisible(page) {
		s.log.LogInfof("login prompt detected at %s, attempting interactive login", targetURL)
		if err := sess.LoginOnPage(page); err != nil {
			return store.Payload{}, NewItemError(KindAuthExpired, "interactive login: %v", err)
		}
		if resp, err = s.navigate(page, targetURL); err != nil {
			return store.Payload{}, err
		}
		if resp != nil && resp.Status() >= 400 {
			return store.Payload{}, NewItemError(KindHTTPError, "HTTP %d after login for %s", resp.Status(), targetURL)
		}
	}

	s.settle(page, profile.Rules.WaitSelector)

	html, err := page.Content()
	if err != nil {
		return store.Payload{}, NewItemError(KindNavigation, "read content: %v", err)
	}

	payload := ParsePayload(html, page.URL(), profile.Rules)
	if payload.Empty() {
		// Markup drift is expected and non-fatal, but the gap must be
		// visible in the staging ledger rather than silently dropped.
		return store.Payload{}, NewItemError(KindSelectorNotFound, "no fields extracted from %s", targetURL)
	}
	return payload, nil
}

func (s *Service) navigate(page playwright.Page, targetURL string) (playwright.Response, error) {
	resp, err := page.Goto(targetURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(s.navTimeout.Milliseconds())),
	})
	if err != nil {
		if isTimeout(err) {
			return nil, NewItemError(KindTimeout, "navigation timeout for %s", targetURL)
		}
		return nil, NewItemError(KindNavigation, "goto %s: %v", targetURL, err)
	}
	return resp, nil
}

// settle applies the per-site wait policy: a DOM marker when the profile
// names one, otherwise a bounded network-idle wait. A missed wait is not an
// item failure; whatever rendered is parsed.
func (s *Service) settle(page playwright.Page, waitSelector string) {
	timeout := playwright.Float(float64(s.navTimeout.Milliseconds()) / 2)
	if waitSelector != "" {
		_, err := page.WaitForSelector(waitSelector, playwright.PageWaitForSelectorOptions{Timeout: timeout})
		if err != nil {
			s.log.LogDebugf("wait selector %q did not appear on %s", waitSelector, page.URL())
		}
		return
	}
	if err := page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: timeout,
	}); err != nil {
		s.log.LogDebugf("network idle not reached on %s", page.URL())
	}
}

func isTimeout(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "timeout")
}
