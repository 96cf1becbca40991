package browser

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"lmsrun/internal/logging"

	"github.com/go-rod/rod/lib/proto"
)

// Cookie is the on-disk form of a session cookie.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

func cookieFromProto(c *proto.NetworkCookie) Cookie {
	return Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Expires:  float64(c.Expires),
		HTTPOnly: c.HTTPOnly,
		Secure:   c.Secure,
		SameSite: string(c.SameSite),
	}
}

func (c Cookie) param() *proto.NetworkCookieParam {
	return &proto.NetworkCookieParam{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Expires:  proto.TimeSinceEpoch(c.Expires),
		HTTPOnly: c.HTTPOnly,
		Secure:   c.Secure,
		SameSite: proto.NetworkCookieSameSite(c.SameSite),
	}
}

// ReadCookies loads a cookie file. A missing file yields no cookies.
func ReadCookies(path string) ([]Cookie, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var cookies []Cookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cookies, nil
}

// WriteCookies stores cookies as an indented JSON list.
func WriteCookies(path string, cookies []Cookie) error {
	data, err := json.MarshalIndent(cookies, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// loadCookiesLocked installs the saved cookies into the browser. Caller must
// hold lock.
func (m *SessionManager) loadCookiesLocked() (int, error) {
	if m.cfg.CookiesFile == "" || m.browser == nil {
		return 0, nil
	}
	cookies, err := ReadCookies(m.cfg.CookiesFile)
	if err != nil || len(cookies) == 0 {
		return 0, err
	}
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		params = append(params, c.param())
	}
	if err := m.browser.SetCookies(params); err != nil {
		return 0, fmt.Errorf("set cookies: %w", err)
	}
	return len(params), nil
}

// SaveCookies writes the browser's current cookies to the cookies file.
func (m *SessionManager) SaveCookies() error {
	m.mu.RLock()
	browser := m.browser
	m.mu.RUnlock()
	if browser == nil {
		return ErrNotConnected
	}
	if m.cfg.CookiesFile == "" {
		return fmt.Errorf("no cookies file configured")
	}

	raw, err := browser.GetCookies()
	if err != nil {
		return fmt.Errorf("get cookies: %w", err)
	}
	cookies := make([]Cookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, cookieFromProto(c))
	}
	if err := WriteCookies(m.cfg.CookiesFile, cookies); err != nil {
		return fmt.Errorf("write cookies: %w", err)
	}
	logging.Browser("Saved %d session cookies to %s", len(cookies), m.cfg.CookiesFile)
	return nil
}
