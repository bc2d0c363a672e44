// Package config holds the daemon options and loads them from JSON, TOML or
// YAML files.
package config

import (
	"io"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var ErrInvalid = errors.New("invalid config")

type Options struct {
	Server     ServerOptions     `json:"server"`
	Connection ConnectionOptions `json:"connection"`
	DNS        DNSOptions        `json:"dns"`
	TLS        TLSOptions        `json:"tls"`
	Proxy      ProxyOptions      `json:"proxy"`
	Log        LogOptions        `json:"log"`
	Session    SessionOptions    `json:"session"`
}

type ServerOptions struct {
	Listen        string   `json:"listen"`
	ProxyProtocol bool     `json:"proxyProtocol"`
	MaxHeaderSize uint     `json:"maxHeaderSize"`
	MaxBodySize   uint     `json:"maxBodySize"`
	MaxURILen     uint     `json:"maxURILen"`
	Timeout       Duration `json:"timeout"`
	IdleTimeout   Duration `json:"idleTimeout"`
}

// ConnectionOptions configure outgoing connections.
type ConnectionOptions struct {
	MaxBodySize       uint     `json:"maxBodySize"`
	MaxHeaderSize     uint     `json:"maxHeaderSize"`
	Retries           int      `json:"retries"`
	InitialRetryDelay Duration `json:"initialRetryDelay"`
	Timeout           Duration `json:"timeout"`

	// LocalAddress is "ip", "ip:port" or ":port".
	LocalAddress string `json:"localAddress"`
}

// LocalAddrPort parses LocalAddress. Missing parts are zero.
func (o ConnectionOptions) LocalAddrPort() (netip.AddrPort, error) {
	raw := o.LocalAddress
	if raw == "" {
		return netip.AddrPort{}, nil
	}

	if ip, err := netip.ParseAddr(raw); err == nil {
		return netip.AddrPortFrom(ip, 0), nil
	}
	if strings.HasPrefix(raw, ":") {
		raw = "0.0.0.0" + raw
	}

	ap, err := netip.ParseAddrPort(raw)
	if err != nil {
		return netip.AddrPort{}, errors.Wrapf(ErrInvalid, "local address %q", o.LocalAddress)
	}
	if ap.Addr().IsUnspecified() {
		return netip.AddrPortFrom(netip.Addr{}, ap.Port()), nil
	}
	return ap, nil
}

type DNSOptions struct {
	// System uses the resolver of the operating system instead of
	// querying Servers directly.
	System      bool     `json:"system"`
	Servers     []string `json:"servers"`
	Network     string   `json:"network"`
	Timeout     Duration `json:"timeout"`
	MinTTL      Duration `json:"minTTL"`
	DisableIPv6 bool     `json:"disableIPv6"`
}

type TLSOptions struct {
	// Cert and Key enable TLS on the listener.
	Cert string `json:"cert"`
	Key  string `json:"key"`

	// Client side.
	CA          string `json:"ca"`
	ServerName  string `json:"serverName"`
	Fingerprint string `json:"fingerprint"`
	Insecure    bool   `json:"insecure"`
}

type ProxyOptions struct {
	// SOCKS is a proxy URI like "socks5://127.0.0.1:1080".
	SOCKS string `json:"socks"`
}

type LogOptions struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Logger builds the logger described by o.
func (o LogOptions) Logger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	switch strings.ToLower(o.Level) {
	case "trace":
		level = slog.LevelDebug - 4
	case "":
		level = slog.LevelInfo
	default:
		if err := level.UnmarshalText([]byte(o.Level)); err != nil {
			return nil, errors.Wrapf(ErrInvalid, "log level %q", o.Level)
		}
	}

	hopts := &slog.HandlerOptions{Level: level}
	switch o.Format {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, hopts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, hopts)), nil
	}
	return nil, errors.Wrapf(ErrInvalid, "log format %q", o.Format)
}

type SessionOptions struct {
	CookieName  string   `json:"cookieName"`
	HeaderName  string   `json:"headerName"`
	IdleTimeout Duration `json:"idleTimeout"`
}

func Default() Options {
	return Options{
		Server: ServerOptions{
			Listen:        "127.0.0.1:8080",
			MaxHeaderSize: 8 << 10,
			MaxBodySize:   1 << 20,
			MaxURILen:     8 << 10,
			Timeout:       Duration(30 * time.Second),
			IdleTimeout:   Duration(2 * time.Minute),
		},
		Connection: ConnectionOptions{
			MaxBodySize:       8 << 20,
			MaxHeaderSize:     16 << 10,
			Retries:           2,
			InitialRetryDelay: Duration(2 * time.Second),
			Timeout:           Duration(50 * time.Second),
		},
		DNS: DNSOptions{
			System:  true,
			Network: "udp",
			Timeout: Duration(5 * time.Second),
		},
		Log: LogOptions{Level: "info", Format: "text"},
		Session: SessionOptions{
			CookieName:  "sid",
			HeaderName:  "X-Session-ID",
			IdleTimeout: Duration(30 * time.Minute),
		},
	}
}

func (o *Options) Validate() error {
	if o.Server.Listen == "" {
		return errors.Wrap(ErrInvalid, "server.listen is empty")
	}
	if o.Server.Timeout < 0 || o.Server.IdleTimeout < 0 {
		return errors.Wrap(ErrInvalid, "server timeouts must not be negative")
	}

	c := o.Connection
	if c.Retries < 0 {
		return errors.Wrapf(ErrInvalid, "connection.retries %d", c.Retries)
	}
	if c.Timeout < 0 || c.InitialRetryDelay < 0 {
		return errors.Wrap(ErrInvalid, "connection delays must not be negative")
	}
	if _, err := c.LocalAddrPort(); err != nil {
		return err
	}

	if !o.DNS.System {
		if len(o.DNS.Servers) == 0 {
			return errors.Wrap(ErrInvalid, "dns.servers is empty")
		}
		switch o.DNS.Network {
		case "", "udp", "tcp":
		default:
			return errors.Wrapf(ErrInvalid, "dns.network %q", o.DNS.Network)
		}
	}

	if (o.TLS.Cert == "") != (o.TLS.Key == "") {
		return errors.Wrap(ErrInvalid, "tls.cert and tls.key go together")
	}

	if _, err := o.Log.Logger(io.Discard); err != nil {
		return err
	}

	return nil
}
