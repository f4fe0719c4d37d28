// Package identity resolves the anonymous viewer id for a request.
//
// A browser profile keeps one opaque id. Clients that store it themselves
// send it in X-Viewer-ID; everyone else gets it back in a signed cookie.
package identity

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"studyhub/api/internal/util"
)

const (
	CookieName = "studyhub_viewer"
	HeaderName = "X-Viewer-ID"
	issuer     = "studyhub"
)

var (
	ErrInvalidToken = errors.New("invalid viewer token")
	ErrExpiredToken = errors.New("expired viewer token")
)

var viewerIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]{1,128}$`)

// Viewer is the identity attached to one request. Fresh is set when the id
// was minted for this request and has to be handed back to the client.
type Viewer struct {
	ID    string
	Fresh bool
}

type Provider struct {
	secret []byte
	ttl    time.Duration
	secure bool
	now    func() time.Time
}

func NewProvider(secret string, ttl time.Duration) *Provider {
	if ttl <= 0 {
		ttl = 400 * 24 * time.Hour
	}
	return &Provider{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// WithSecureCookies marks issued cookies Secure.
func (p *Provider) WithSecureCookies(secure bool) *Provider {
	p.secure = secure
	return p
}

func NewViewerID() string {
	return util.NewID("user")
}

// ValidViewerID accepts ids minted here and the legacy user_<ts>_<rand> form.
func ValidViewerID(id string) bool {
	return viewerIDPattern.MatchString(id)
}

func (p *Provider) Issue(viewerID string) (string, error) {
	now := p.now()
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   viewerID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(p.ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return "", fmt.Errorf("sign viewer token: %w", err)
	}
	return token, nil
}

func (p *Provider) Parse(token string) (string, error) {
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return p.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", ErrInvalidToken
	}
	if !parsed.Valid || !ValidViewerID(claims.Subject) {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// Resolve picks the viewer for r: a well-formed X-Viewer-ID header wins,
// then a valid cookie, otherwise a new id is minted.
func (p *Provider) Resolve(r *http.Request) Viewer {
	if header := strings.TrimSpace(r.Header.Get(HeaderName)); header != "" && ValidViewerID(header) {
		return Viewer{ID: header}
	}
	if cookie, err := r.Cookie(CookieName); err == nil {
		if id, err := p.Parse(cookie.Value); err == nil {
			return Viewer{ID: id}
		}
	}
	return Viewer{ID: NewViewerID(), Fresh: true}
}

// Cookie builds the cookie that pins viewerID to the browser.
func (p *Provider) Cookie(viewerID string) (*http.Cookie, error) {
	token, err := p.Issue(viewerID)
	if err != nil {
		return nil, err
	}
	return &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Expires:  p.now().Add(p.ttl),
		MaxAge:   int(p.ttl.Seconds()),
		HttpOnly: true,
		Secure:   p.secure,
		SameSite: http.SameSiteLaxMode,
	}, nil
}
