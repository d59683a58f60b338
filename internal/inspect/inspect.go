// Package inspect turns incoming requests into fingerprint records and can
// refuse requests from origins that are creating sessions too quickly.
package inspect

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/language"

	"statecache/internal/ledger"
	"statecache/internal/obs"
)

const (
	DefaultSessionCookie = "sid"
	SessionHeader        = "X-Session-ID"
	ScreenHeader         = "X-Client-Screen"
	TimezoneHeader       = "X-Client-Timezone"

	maxScreenSignature = 64
	maxSessionID       = 128
)

type Config struct {
	SessionCookie string
	// TrustForwardedFor takes the origin from the first X-Forwarded-For hop.
	// Enable only behind a proxy that overwrites the header.
	TrustForwardedFor bool
	// Threshold > 0 rejects requests whose origin has more than Threshold
	// records within Window.
	Threshold int
	Window    time.Duration
	Metrics   *obs.Metrics
}

type inspector struct {
	ledger *ledger.Ledger
	cfg    Config
	next   http.Handler
}

func Middleware(l *ledger.Ledger, cfg Config, next http.Handler) http.Handler {
	if cfg.SessionCookie == "" {
		cfg.SessionCookie = DefaultSessionCookie
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Hour
	}
	return &inspector{ledger: l, cfg: cfg, next: next}
}

func (i *inspector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec, ok := Fingerprint(r, i.cfg.SessionCookie, i.cfg.TrustForwardedFor)
	if !ok || i.ledger == nil {
		i.next.ServeHTTP(w, r)
		return
	}
	i.ledger.Record(rec)

	if i.cfg.Threshold > 0 && i.ledger.CountRecent(rec.OriginIP, i.cfg.Window) > i.cfg.Threshold {
		i.cfg.Metrics.RecordInspectRejected()
		writeError(w, http.StatusTooManyRequests, "rate_limited")
		return
	}
	i.next.ServeHTTP(w, r)
}

// Fingerprint builds a record from r. It reports false when the request
// carries no session id.
func Fingerprint(r *http.Request, sessionCookie string, trustForwardedFor bool) (ledger.Record, bool) {
	sessionID := sessionFromRequest(r, sessionCookie)
	if sessionID == "" {
		return ledger.Record{}, false
	}
	return ledger.Record{
		SessionID:        sessionID,
		OriginIP:         OriginIP(r, trustForwardedFor),
		UserAgentSummary: SummarizeUserAgent(r.UserAgent()),
		ScreenSignature:  screenSignature(r.Header.Get(ScreenHeader)),
		Timezone:         timezone(r.Header.Get(TimezoneHeader)),
		Locale:           Locale(r.Header.Get("Accept-Language")),
	}, true
}

func sessionFromRequest(r *http.Request, cookieName string) string {
	if cookie, err := r.Cookie(cookieName); err == nil {
		if value := strings.TrimSpace(cookie.Value); value != "" {
			return boundSessionID(value)
		}
	}
	return boundSessionID(strings.TrimSpace(r.Header.Get(SessionHeader)))
}

// boundSessionID replaces ids longer than maxSessionID with their SHA-256,
// so one ledger record costs a bounded amount of memory while the same long
// id still maps to the same record.
func boundSessionID(id string) string {
	if len(id) <= maxSessionID {
		return id
	}
	sum := sha256.Sum256([]byte(id))
	return "sha256:" + hex.EncodeToString(sum[:])
}

func OriginIP(r *http.Request, trustForwardedFor bool) string {
	if trustForwardedFor {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			first, _, _ := strings.Cut(forwarded, ",")
			if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
				return ip.String()
			}
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// Locale returns the highest-weighted Accept-Language tag, or "" if the
// header is missing or malformed.
func Locale(acceptLanguage string) string {
	acceptLanguage = strings.TrimSpace(acceptLanguage)
	if acceptLanguage == "" {
		return ""
	}
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return ""
	}
	return tags[0].String()
}

func timezone(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if _, err := time.LoadLocation(value); err != nil {
		return "invalid"
	}
	return value
}

func screenSignature(value string) string {
	value = strings.TrimSpace(value)
	if len(value) > maxScreenSignature {
		value = value[:maxScreenSignature]
	}
	return value
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
