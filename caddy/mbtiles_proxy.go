package caddy

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/caddyserver/caddy/v2"
	"github.com/caddyserver/caddy/v2/caddyconfig/caddyfile"
	"github.com/caddyserver/caddy/v2/caddyconfig/httpcaddyfile"
	"github.com/caddyserver/caddy/v2/modules/caddyhttp"
	"github.com/eslopemap/eslope/mbtiles"
	"go.uber.org/zap"
)

func init() {
	caddy.RegisterModule(Middleware{})
	httpcaddyfile.RegisterHandlerDirective("mbtiles_proxy", parseCaddyfile)
}

// Middleware creates a Z/X/Y tileserver backed by a directory of MBTiles
// stores.
type Middleware struct {
	Path      string `json:"path"`
	PoolSize  int    `json:"pool_size"`
	PublicURL string `json:"public_url"`
	logger    *zap.Logger
	server    *mbtiles.Server
}

// CaddyModule returns the Caddy module information.
func (Middleware) CaddyModule() caddy.ModuleInfo {
	return caddy.ModuleInfo{
		ID:  "http.handlers.mbtiles_proxy",
		New: func() caddy.Module { return new(Middleware) },
	}
}

func (m *Middleware) Provision(ctx caddy.Context) error {
	m.logger = ctx.Logger()
	server, err := mbtiles.NewServer(m.logger.Named("mbtiles"), m.Path, m.PoolSize, "", m.PublicURL)
	if err != nil {
		return err
	}
	m.server = server
	return nil
}

func (m *Middleware) Validate() error {
	if m.Path == "" {
		return fmt.Errorf("no path")
	}
	if m.PoolSize <= 0 {
		m.PoolSize = mbtiles.DefaultPoolSize
	}
	return nil
}

// Cleanup closes the connection pools when the config is unloaded.
func (m *Middleware) Cleanup() error {
	if m.server == nil {
		return nil
	}
	return m.server.Close()
}

func (m Middleware) ServeHTTP(w http.ResponseWriter, r *http.Request, next caddyhttp.Handler) error {
	start := time.Now()
	statusCode, headers, body := m.server.Get(r.Context(), r.URL.Path)
	for k, v := range headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(statusCode)
	w.Write(body)
	m.logger.Info("response", zap.Int("status", statusCode), zap.String("path", r.URL.Path), zap.Duration("duration", time.Since(start)))

	return next.ServeHTTP(w, r)
}

func (m *Middleware) UnmarshalCaddyfile(d *caddyfile.Dispenser) error {
	for d.Next() {
		for nesting := d.Nesting(); d.NextBlock(nesting); {
			switch d.Val() {
			case "path":
				if !d.Args(&m.Path) {
					return d.ArgErr()
				}
			case "pool_size":
				var poolSize string
				if !d.Args(&poolSize) {
					return d.ArgErr()
				}
				num, err := strconv.Atoi(poolSize)
				if err != nil {
					return d.ArgErr()
				}
				m.PoolSize = num
			case "public_url":
				if !d.Args(&m.PublicURL) {
					return d.ArgErr()
				}
			default:
				return d.Errf("unknown subdirective %s", d.Val())
			}
		}
	}
	return nil
}

func parseCaddyfile(h httpcaddyfile.Helper) (caddyhttp.MiddlewareHandler, error) {
	var m Middleware
	err := m.UnmarshalCaddyfile(h.Dispenser)
	return m, err
}

var (
	_ caddy.Provisioner           = (*Middleware)(nil)
	_ caddy.Validator             = (*Middleware)(nil)
	_ caddy.CleanerUpper          = (*Middleware)(nil)
	_ caddyhttp.MiddlewareHandler = (*Middleware)(nil)
	_ caddyfile.Unmarshaler       = (*Middleware)(nil)
)
