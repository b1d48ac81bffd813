// Package session resolves and establishes the authenticated browsing
// context a job crawls with. Session state lives for the job only;
// credential secrets are decrypted in memory and wiped on release.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"enricher/internal/logger"
	"enricher/internal/store"

	"github.com/playwright-community/playwright-go"
)

// ErrAuthFailed means session establishment is impossible for the profile;
// the owning job moves straight to failed.
var ErrAuthFailed = errors.New("auth failed")

// Mode is the capability-tagged auth variant, selected once per job.
type Mode string

const (
	ModeNone        Mode = "none"
	ModePreLogin    Mode = "pre_login"
	ModeInteractive Mode = "interactive"
)

// ResolveMode picks the auth variant from profile configuration: a
// credential with a service URL means programmatic pre-login, a credential
// without one means reactive login on prompt detection.
func ResolveMode(p store.Profile, c *store.Credential) Mode {
	if !p.AuthRequired || c == nil {
		return ModeNone
	}
	if c.ServiceURL != "" {
		return ModePreLogin
	}
	return ModeInteractive
}

// Manager owns the shared browser and the per-job sessions.
type Manager struct {
	log          *logger.Logger
	creds        store.CredentialStore
	key          []byte
	loginTimeout time.Duration

	mu       sync.Mutex
	pw       *playwright.Playwright
	browser  playwright.Browser
	sessions map[string]*Session
}

func NewManager(creds store.CredentialStore, key []byte, loginTimeout time.Duration) *Manager {
	return &Manager{
		log:          logger.New("SessionManager"),
		creds:        creds,
		key:          key,
		loginTimeout: loginTimeout,
		sessions:     make(map[string]*Session),
	}
}

// Session is one job's exclusive browsing context. Cookies established by a
// login persist on the context for the lifetime of the job.
type Session struct {
	JobID string
	Mode  Mode

	mgr        *Manager
	browserCtx playwright.BrowserContext
	serviceURL string
	username   string
	secret     string
}

func (m *Manager) ensureBrowser() error {
	if m.browser != nil {
		return nil
	}
	pw, err := playwright.Run()
	if err != nil {
		return fmt.Errorf("playwright run: %w", err)
	}
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
		Args: []string{
			"--no-sandbox",
			"--disable-dev-shm-usage",
			"--disable-blink-features=AutomationControlled",
		},
	})
	if err != nil {
		_ = pw.Stop()
		return fmt.Errorf("launch: %w", err)
	}
	m.pw = pw
	m.browser = browser
	return nil
}

// Establish resolves the profile's auth mode and prepares the job's browsing
// context. Pre-login performs the credential submission up front and returns
// ErrAuthFailed when no valid session results.
func (m *Manager) Establish(ctx context.Context, jobID string, profile store.Profile) (*Session, error) {
	var cred *store.Credential
	if profile.AuthRequired && profile.CredentialID != "" {
		c, err := m.creds.GetCredential(ctx, profile.CredentialID)
		if err != nil {
			return nil, fmt.Errorf("%w: credential %s: %v", ErrAuthFailed, profile.CredentialID, err)
		}
		cred = &c
	}
	mode := ResolveMode(profile, cred)

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[jobID]; ok {
		return s, nil
	}
	if err := m.ensureBrowser(); err != nil {
		return nil, err
	}

	bctx, err := m.browser.NewContext()
	if err != nil {
		return nil, fmt.Errorf("new browser context: %w", err)
	}
	s := &Session{JobID: jobID, Mode: mode, mgr: m, browserCtx: bctx}

	if mode != ModeNone {
		secret, err := decryptSecret(m.key, cred.SecretEnc)
		if err != nil {
			_ = bctx.Close()
			return nil, fmt.Errorf("%w: decrypt credential: %v", ErrAuthFailed, err)
		}
		s.serviceURL = cred.ServiceURL
		s.username = cred.Username
		s.secret = secret
	}

	if mode == ModePreLogin {
		if err := s.preLogin(); err != nil {
			_ = bctx.Close()
			s.wipe()
			return nil, err
		}
		m.log.LogInfof("pre-login established for job %s", jobID)
	}

	m.sessions[jobID] = s
	return s, nil
}

// Release closes the job's browsing context and wipes decrypted secrets.
func (m *Manager) Release(jobID string) {
	m.mu.Lock()
	s, ok := m.sessions[jobID]
	delete(m.sessions, jobID)
	m.mu.Unlock()
	if !ok {
		return
	}
	_ = s.browserCtx.Close()
	s.wipe()
}

// Close shuts the shared browser down.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		_ = s.browserCtx.Close()
		s.wipe()
		delete(m.sessions, id)
	}
	if m.browser != nil {
		_ = m.browser.Close()
		m.browser = nil
	}
	if m.pw != nil {
		_ = m.pw.Stop()
		m.pw = nil
	}
}

func (s *Session) wipe() {
	s.secret = ""
	s.username = ""
}

// NewPage opens a page on the job's context. Pages are exclusively owned by
// one worker at a time and must be closed on every path.
func (s *Session) NewPage() (playwright.Page, error) {
	page, err := s.browserCtx.NewPage()
	if err != nil {
		return nil, fmt.Errorf("new page: %w", err)
	}
	return page, nil
}

func (s *Session) preLogin() error {
	page, err := s.browserCtx.NewPage()
	if err != nil {
		return fmt.Errorf("new page: %w", err)
	}
	defer page.Close()

	if _, err := page.Goto(s.serviceURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(s.mgr.loginTimeout.Milliseconds())),
	}); err != nil {
		return fmt.Errorf("%w: navigate login url: %v", ErrAuthFailed, err)
	}
	return s.LoginOnPage(page)
}

// candidate selectors for login forms, most specific first
var (
	userSelectors = []string{
		"input[name*='user']", "input[name*='login']", "#username", "#email",
		"input[type='email']", "input[type='text']",
	}
	submitSelectors = []string{
		"button[type='submit']", "input[type='submit']",
		"button[name*='login']", ".login-btn", "#login-button",
	}
)

// LoginOnPage fills and submits the login form present on page using the
// job's stored credential, then verifies a session was established. Used
// both for pre-login (after navigating to the service URL) and for
// interactive login on a detected prompt.
func (s *Session) LoginOnPage(page playwright.Page) error {
	if s.Mode == ModeNone {
		return fmt.Errorf("%w: no credential bound to session", ErrAuthFailed)
	}
	timeout := playwright.Float(float64(s.mgr.loginTimeout.Milliseconds()))

	userField := firstVisible(page, userSelectors)
	if userField == nil {
		if loggedIn(page) {
			return nil
		}
		return fmt.Errorf("%w: username input not found", ErrAuthFailed)
	}
	if err := userField.Fill(s.username); err != nil {
		return fmt.Errorf("%w: fill username: %v", ErrAuthFailed, err)
	}

	passField := page.Locator("input[type='password']").First()
	if err := passField.Fill(s.secret, playwright.LocatorFillOptions{Timeout: timeout}); err != nil {
		return fmt.Errorf("%w: fill password: %v", ErrAuthFailed, err)
	}

	submit := firstVisible(page, submitSelectors)
	if submit == nil {
		if err := passField.Press("Enter"); err != nil {
			return fmt.Errorf("%w: submit login: %v", ErrAuthFailed, err)
		}
	} else if err := submit.Click(); err != nil {
		return fmt.Errorf("%w: submit login: %v", ErrAuthFailed, err)
	}

	_ = page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: timeout,
	})
	if !loggedIn(page) {
		return fmt.Errorf("%w: login response did not establish a session", ErrAuthFailed)
	}
	return nil
}

func firstVisible(page playwright.Page, selectors []string) playwright.Locator {
	for _, sel := range selectors {
		loc := page.Locator(sel).First()
		if visible, err := loc.IsVisible(); err == nil && visible {
			return loc
		}
	}
	return nil
}

// loggedIn treats an absent password field or a visible logout link as a
// valid session.
func loggedIn(page playwright.Page) bool {
	if visible, err := page.Locator("input[type='password']").First().IsVisible(); err == nil && visible {
		return false
	}
	if n, err := page.Locator("a[href*='logout'], a[href*='signout']").Count(); err == nil && n > 0 {
		return true
	}
	return true
}

// LoginPromptVisible detects a login wall mid-crawl: either the navigation
// landed on a login/auth URL or a password input is on screen.
func LoginPromptVisible(page playwright.Page) bool {
	u := strings.ToLower(page.URL())
	if strings.Contains(u, "login") || strings.Contains(u, "auth") || strings.Contains(u, "signin") {
		return true
	}
	visible, err := page.Locator("input[type='password']").First().IsVisible()
	return err == nil && visible
}
