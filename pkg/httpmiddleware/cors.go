package httpmiddleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig configures CORS.
type CORSConfig struct {
	// AllowOrigins holds exact origins, "*" for any origin, or subdomain
	// patterns such as "https://*.shop.example". Empty means any origin.
	AllowOrigins []string
	// AllowHeaders lists extra request headers. When empty the preflight's
	// Access-Control-Request-Headers are echoed.
	AllowHeaders []string
	// TokenHeader carries the cart session token. It is always allowed and
	// exposed, so storefronts can read a freshly minted token. Defaults to
	// X-Cart-Token.
	TokenHeader string
	// AllowCredentials echoes the request origin instead of "*".
	AllowCredentials bool
	// MaxAge in seconds; zero omits Access-Control-Max-Age.
	MaxAge int
}

const corsMethods = "GET, POST, PUT, PATCH, DELETE"

type corsPolicy struct {
	any         bool
	exact       map[string]string // lowercase -> configured
	suffixes    []subdomainOrigin
	credentials bool

	allowHeaders  string
	exposeHeaders string
	maxAge        string
}

type subdomainOrigin struct {
	scheme string // "https://"
	suffix string // ".shop.example"
}

func newCORSPolicy(cfg CORSConfig) *corsPolicy {
	token := cfg.TokenHeader
	if token == "" {
		token = "X-Cart-Token"
	}
	p := &corsPolicy{
		any:           len(cfg.AllowOrigins) == 0,
		exact:         make(map[string]string, len(cfg.AllowOrigins)),
		credentials:   cfg.AllowCredentials,
		exposeHeaders: token + ", " + RequestIDHeader,
	}
	for _, o := range cfg.AllowOrigins {
		lower := strings.ToLower(o)
		switch {
		case o == "*":
			p.any = true
		case strings.Contains(lower, "://*."):
			scheme, host, _ := strings.Cut(lower, "*")
			p.suffixes = append(p.suffixes, subdomainOrigin{scheme: scheme, suffix: host})
		default:
			p.exact[lower] = o
		}
	}
	if len(cfg.AllowHeaders) > 0 {
		headers := cfg.AllowHeaders
		if !containsFold(headers, token) {
			headers = append(headers[:len(headers):len(headers)], token)
		}
		p.allowHeaders = strings.Join(headers, ", ")
	}
	if cfg.MaxAge > 0 {
		p.maxAge = strconv.Itoa(cfg.MaxAge)
	}
	return p
}

// allowOrigin returns the Access-Control-Allow-Origin value for origin, or ""
// when origin is not allowed.
func (p *corsPolicy) allowOrigin(origin string) string {
	lower := strings.ToLower(origin)
	if v, ok := p.exact[lower]; ok {
		return v
	}
	for _, s := range p.suffixes {
		rest, ok := strings.CutPrefix(lower, s.scheme)
		if ok && len(rest) > len(s.suffix) && strings.HasSuffix(rest, s.suffix) {
			return origin
		}
	}
	if p.any {
		if p.credentials {
			return origin
		}
		return "*"
	}
	return ""
}

// varies reports whether the response depends on the Origin header.
func (p *corsPolicy) varies() bool {
	return !p.any || p.credentials
}

// CORS answers preflights with 204 and annotates cross-origin responses of
// the storefront API. Exact origins match case-insensitively and are echoed
// as configured.
func CORS(cfg CORSConfig) Middleware {
	p := newCORSPolicy(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			origin := r.Header.Get("Origin")
			preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""

			if p.varies() || preflight {
				h.Add("Vary", "Origin")
			}
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			allow := p.allowOrigin(origin)

			if preflight {
				h.Add("Vary", "Access-Control-Request-Method")
				h.Add("Vary", "Access-Control-Request-Headers")
				if allow != "" {
					h.Set("Access-Control-Allow-Origin", allow)
					h.Set("Access-Control-Allow-Methods", corsMethods)
					if p.allowHeaders != "" {
						h.Set("Access-Control-Allow-Headers", p.allowHeaders)
					} else if rh := r.Header.Get("Access-Control-Request-Headers"); rh != "" {
						h.Set("Access-Control-Allow-Headers", rh)
					}
					if p.credentials {
						h.Set("Access-Control-Allow-Credentials", "true")
					}
					if p.maxAge != "" {
						h.Set("Access-Control-Max-Age", p.maxAge)
					}
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			if allow != "" {
				h.Set("Access-Control-Allow-Origin", allow)
				h.Set("Access-Control-Expose-Headers", p.exposeHeaders)
				if p.credentials {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
