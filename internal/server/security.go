package server

import "net/http"

const (
	defaultContentSecurityPolicy = "default-src 'none'; frame-ancestors 'none'"
	defaultFrameOptions          = "DENY"
	defaultReferrerPolicy        = "no-referrer"
	defaultContentTypeOptions    = "nosniff"
	defaultCacheControl          = "no-store"
)

// SecurityConfig controls the hardening headers set on every response. The
// API serves JSON only, so the defaults forbid all embedding and active
// content. Empty fields fall back to the defaults.
type SecurityConfig struct {
	ContentSecurityPolicy string
	FrameOptions          string
	ReferrerPolicy        string
	ContentTypeOptions    string
	CacheControl          string
}

func (cfg SecurityConfig) withDefaults() SecurityConfig {
	if cfg.ContentSecurityPolicy == "" {
		cfg.ContentSecurityPolicy = defaultContentSecurityPolicy
	}
	if cfg.FrameOptions == "" {
		cfg.FrameOptions = defaultFrameOptions
	}
	if cfg.ReferrerPolicy == "" {
		cfg.ReferrerPolicy = defaultReferrerPolicy
	}
	if cfg.ContentTypeOptions == "" {
		cfg.ContentTypeOptions = defaultContentTypeOptions
	}
	if cfg.CacheControl == "" {
		cfg.CacheControl = defaultCacheControl
	}
	return cfg
}

func securityHeadersMiddleware(cfg SecurityConfig, next http.Handler) http.Handler {
	effective := cfg.withDefaults()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := w.Header()
		header.Set("Content-Security-Policy", effective.ContentSecurityPolicy)
		header.Set("X-Frame-Options", effective.FrameOptions)
		header.Set("X-Content-Type-Options", effective.ContentTypeOptions)
		header.Set("Referrer-Policy", effective.ReferrerPolicy)
		if r.URL.Path != "/metrics" {
			header.Set("Cache-Control", effective.CacheControl)
		}
		next.ServeHTTP(w, r)
	})
}
