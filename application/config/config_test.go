package config

import (
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wantLoaded() Options {
	want := Default()
	want.Server.Listen = "0.0.0.0:8000"
	want.Server.Timeout = Duration(1500 * time.Millisecond)
	want.Connection.Retries = 5
	want.Connection.InitialRetryDelay = Duration(3 * time.Second)
	want.DNS.System = false
	want.DNS.Servers = []string{"1.1.1.1:53"}
	want.Log.Level = "debug"
	return want
}

func TestDecode(t *testing.T) {
	testcases := []struct {
		desc   string
		format Format
		input  string
	}{
		{
			desc:   "json",
			format: FormatJSON,
			input: `{
				"server": {"listen": "0.0.0.0:8000", "timeout": "1.5s"},
				"connection": {"retries": 5, "initialRetryDelay": 3},
				"dns": {"system": false, "servers": ["1.1.1.1:53"]},
				"log": {"level": "debug"}
			}`,
		},
		{
			desc:   "toml",
			format: FormatTOML,
			input: `
[server]
listen = "0.0.0.0:8000"
timeout = "1.5s"

[connection]
retries = 5
initialRetryDelay = 3

[dns]
system = false
servers = ["1.1.1.1:53"]

[log]
level = "debug"
`,
		},
		{
			desc:   "yaml",
			format: FormatYAML,
			input: `
server:
  listen: "0.0.0.0:8000"
  timeout: 1.5s
connection:
  retries: 5
  initialRetryDelay: 3
dns:
  system: false
  servers: ["1.1.1.1:53"]
log:
  level: debug
`,
		},
	}

	for _, tc := range testcases {
		t.Run(tc.desc, func(t *testing.T) {
			got, err := Decode(strings.NewReader(tc.input), tc.format)
			require.NoError(t, err)

			if diff := cmp.Diff(wantLoaded(), got); diff != "" {
				t.Errorf("Decode() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	testcases := []struct {
		desc    string
		input   string
		invalid bool
	}{
		{desc: "syntax", input: `{"server": `},
		{desc: "unknown field", input: `{"server": {"port": 80}}`},
		{desc: "bad duration", input: `{"connection": {"timeout": "soon"}}`, invalid: true},
		{desc: "negative retries", input: `{"connection": {"retries": -1}}`, invalid: true},
		{desc: "bad local address", input: `{"connection": {"localAddress": "nowhere"}}`, invalid: true},
		{desc: "empty listen", input: `{"server": {"listen": ""}}`, invalid: true},
		{desc: "dns without servers", input: `{"dns": {"system": false}}`, invalid: true},
		{desc: "cert without key", input: `{"tls": {"cert": "a.pem"}}`, invalid: true},
		{desc: "bad log format", input: `{"log": {"format": "xml"}}`, invalid: true},
	}

	for _, tc := range testcases {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tc.input), FormatJSON)
			require.Error(t, err)
			if tc.invalid {
				assert.ErrorIs(t, err, ErrInvalid)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "evhttpd.yml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  listen: \"127.0.0.1:9000\"\n"), 0o600))

	opts, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", opts.Server.Listen)
	assert.Equal(t, Default().Connection, opts.Connection)

	_, err = Load(filepath.Join(dir, "evhttpd.ini"))
	assert.Error(t, err)

	_, err = Load(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestLocalAddrPort(t *testing.T) {
	testcases := []struct {
		desc  string
		input string
		want  netip.AddrPort
	}{
		{desc: "empty", input: ""},
		{desc: "ip", input: "10.0.0.1", want: netip.MustParseAddrPort("10.0.0.1:0")},
		{desc: "ip and port", input: "10.0.0.1:4000", want: netip.MustParseAddrPort("10.0.0.1:4000")},
		{desc: "port only", input: ":4000", want: netip.AddrPortFrom(netip.Addr{}, 4000)},
	}

	for _, tc := range testcases {
		t.Run(tc.desc, func(t *testing.T) {
			got, err := ConnectionOptions{LocalAddress: tc.input}.LocalAddrPort()
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDuration(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`0.25`)))
	assert.Equal(t, 250*time.Millisecond, d.Std())

	require.NoError(t, d.UnmarshalJSON([]byte(`"2"`)))
	assert.Equal(t, 2*time.Second, d.Std())

	b, err := Duration(90 * time.Second).MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(b))

	assert.ErrorIs(t, d.UnmarshalJSON([]byte(`true`)), ErrInvalid)
}

func TestLogger(t *testing.T) {
	var out strings.Builder

	logger, err := LogOptions{Level: "warn", Format: "json"}.Logger(&out)
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("kept")

	assert.NotContains(t, out.String(), "dropped")
	assert.Contains(t, out.String(), `"msg":"kept"`)

	_, err = LogOptions{Level: "loud"}.Logger(&out)
	assert.ErrorIs(t, err, ErrInvalid)
}
