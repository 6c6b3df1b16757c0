package config

import (
	"strings"
	"time"
)

// Cache key strategies understood by the response cache.
const (
	CacheKeyRoute            = "route"
	CacheKeyRouteQuery       = "route_query"
	CacheKeyMethodRouteQuery = "method_route_query"
	CacheKeyRouteQueryUser   = "route_query_user"
)

const (
	defaultCacheTTL     = 15 * time.Second
	maxCacheTTL         = 5 * time.Minute
	defaultCacheMaxBody = 1 << 20
)

// CacheConfig configures the Redis response cache in front of the flight
// listing.  TTL is the longest a cached tickets_available may lag behind
// the database.  Only GET and HEAD are ever cached; a configuration that
// leaves no cacheable method disables the cache.
type CacheConfig struct {
	Enabled      bool
	Methods      map[string]bool
	TTL          time.Duration
	KeyStrategy  string
	Prefix       string
	MaxBodyBytes int
}

// LoadCacheConfig reads CACHE_* variables.  Out of range values fall back
// to defaults: the TTL is capped at five minutes and an unknown key
// strategy becomes route_query.
func LoadCacheConfig() CacheConfig {
	cfg := CacheConfig{
		Enabled:      envBool("CACHE_ENABLED", true),
		Methods:      readMethods(envStr("CACHE_METHODS", "GET")),
		TTL:          envDur("CACHE_TTL", defaultCacheTTL),
		KeyStrategy:  strings.ToLower(envStr("CACHE_KEY_STRATEGY", CacheKeyRouteQuery)),
		Prefix:       envStr("CACHE_PREFIX", "flights"),
		MaxBodyBytes: envInt("CACHE_MAX_BODY_BYTES", defaultCacheMaxBody),
	}
	switch {
	case cfg.TTL <= 0:
		cfg.TTL = defaultCacheTTL
	case cfg.TTL > maxCacheTTL:
		cfg.TTL = maxCacheTTL
	}
	switch cfg.KeyStrategy {
	case CacheKeyRoute, CacheKeyRouteQuery, CacheKeyMethodRouteQuery, CacheKeyRouteQueryUser:
	default:
		cfg.KeyStrategy = CacheKeyRouteQuery
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultCacheMaxBody
	}
	if len(cfg.Methods) == 0 {
		cfg.Enabled = false
	}
	return cfg
}

// readMethods parses a comma separated method list, keeping GET and HEAD.
func readMethods(s string) map[string]bool {
	m := map[string]bool{}
	for _, p := range strings.Split(s, ",") {
		switch p = strings.TrimSpace(strings.ToUpper(p)); p {
		case "GET", "HEAD":
			m[p] = true
		}
	}
	return m
}
