package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
)

var errUntrustedSource = errors.New("identity headers from untrusted source")

// TrustedHeaderConfig names the identity headers a gateway sets, and the proxies allowed to set them.
type TrustedHeaderConfig struct {
	TrustedProxies []string // CIDRs or single addresses
	HeaderUserID   string   // default X-Helix-User-ID
	HeaderUserName string   // default X-Helix-User-Name
	HeaderRoles    string   // default X-Helix-Role, comma separated
}

// TrustedHeaderStrategy takes the actor from gateway headers. Requests from any other
// address carrying those headers are rejected, not ignored.
type TrustedHeaderStrategy struct {
	proxies []netip.Prefix
	cfg     TrustedHeaderConfig
	logger  *slog.Logger
}

func NewTrustedHeaderStrategy(cfg TrustedHeaderConfig, logger *slog.Logger) (*TrustedHeaderStrategy, error) {
	if len(cfg.TrustedProxies) == 0 {
		return nil, errors.New("auth: header mode needs at least one trusted proxy")
	}
	proxies, err := parsePrefixes(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}
	if cfg.HeaderUserID == "" {
		cfg.HeaderUserID = "X-Helix-User-ID"
	}
	if cfg.HeaderUserName == "" {
		cfg.HeaderUserName = "X-Helix-User-Name"
	}
	if cfg.HeaderRoles == "" {
		cfg.HeaderRoles = "X-Helix-Role"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TrustedHeaderStrategy{proxies: proxies, cfg: cfg, logger: logger}, nil
}

// parsePrefixes accepts "10.0.0.0/8" as well as a bare "127.0.0.1".
func parsePrefixes(entries []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if p, err := netip.ParsePrefix(entry); err == nil {
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("auth: bad trusted proxy %q", entry)
		}
		out = append(out, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
	}
	return out, nil
}

func (s *TrustedHeaderStrategy) trusted(remoteAddr string) (netip.Addr, bool) {
	ap, err := netip.ParseAddrPort(remoteAddr)
	addr := ap.Addr()
	if err != nil {
		if addr, err = netip.ParseAddr(remoteAddr); err != nil {
			return netip.Addr{}, false
		}
	}
	addr = addr.Unmap()
	for _, p := range s.proxies {
		if p.Contains(addr) {
			return addr, true
		}
	}
	return addr, false
}

func (s *TrustedHeaderStrategy) Authenticate(ctx context.Context, payload AuthPayload) (context.Context, error) {
	userID := strings.TrimSpace(payload.GetHeader(s.cfg.HeaderUserID))
	if userID == "" {
		return nil, ErrNoCredentials
	}
	if addr, ok := s.trusted(payload.RemoteAddr); !ok {
		s.logger.WarnContext(ctx, "identity headers sent by untrusted peer",
			"peer", addr.String(), "remote_addr", payload.RemoteAddr, "path", payload.Path)
		return nil, errUntrustedSource
	}

	var roles []string
	for _, role := range strings.Split(payload.GetHeader(s.cfg.HeaderRoles), ",") {
		if role = strings.TrimSpace(role); role != "" {
			roles = append(roles, role)
		}
	}
	return withPrincipal(ctx, userID, strings.TrimSpace(payload.GetHeader(s.cfg.HeaderUserName)), roles), nil
}
