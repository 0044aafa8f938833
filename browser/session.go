package browser

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/formfill/dom"
)

// Session wraps one Rod page opened on an application form: stealth
// applied, resources blocked, ready for scanning and filling.
type Session struct {
	Page    *rod.Page
	PageURL string
	Stealth StealthLevel

	manager *Manager
}

// OpenSession creates a page, navigates to the URL with stealth applied,
// and waits for the load event.
func OpenSession(ctx context.Context, mgr *Manager, pageURL string, level StealthLevel) (*Session, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	var page *rod.Page
	var err error

	if level == LevelHeadless {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create page: %w", err)
	}

	if len(mgr.cfg.ResourceBlocking) > 0 {
		if err := applyResourceBlocking(page, mgr.cfg.ResourceBlocking); err != nil {
			mgr.cfg.Logger.Warn("browser: resource blocking failed", "error", err)
		}
	}

	navCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		mgr.cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}

	return &Session{
		Page:    page,
		PageURL: pageURL,
		Stealth: level,
		manager: mgr,
	}, nil
}

// Document binds the page's live DOM to the dom.Document interface the
// scan and fill pipeline operates on. Elements returned from it hold live
// CDP references valid until navigation or browser recycle.
func (s *Session) Document(ctx context.Context) (dom.Document, error) {
	return newPageDocument(s.Page.Context(ctx))
}

// Domain returns the host of the session URL, for rule matching.
func (s *Session) Domain() string {
	u, err := url.Parse(s.PageURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// HTML serialises the complete DOM as outer HTML, useful for offline
// re-mapping against memdom.
func (s *Session) HTML(ctx context.Context) ([]byte, error) {
	res, err := s.Page.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return nil, fmt.Errorf("browser: get DOM: %w", err)
	}
	return []byte(res.Value.Str()), nil
}

// Close closes the page.
func (s *Session) Close() error {
	if s.Page != nil {
		return s.Page.Close()
	}
	return nil
}
