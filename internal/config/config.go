/* go-p2p-usb - share USB devices over an authenticated P2P link
 *
 * Program configuration, generalized from the teacher's conf.go, but
 * parsed with gopkg.in/ini.v1 rather than the teacher's hand-rolled
 * inifile.go: the teacher's own go.mod already lists ini.v1, so this is
 * the one dependency the teacher declared without actually using it.
 */

package config

import (
	"fmt"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/kimasplund/go-p2p-usb/internal/usbdev"
)

// FileName is the default configuration file name, loaded from the
// platform config directory (internal/paths).
const FileName = "p2p-usb.conf"

// Configuration is the fully parsed program configuration.
type Configuration struct {
	ListenAddr string // host:port for the QUIC listener (server only)

	ApprovedClients []string // hex peer ids allowed to connect (server)
	ApprovedServers []string // hex peer ids this client is allowed to dial
	RequireApproval bool     // reject unknown peers rather than auto-trust

	UsbFilters usbdev.FilterSet // "VVVV:PPPP" glob patterns

	SecretKeyPath string   // identity key file
	RelayServers  []string // fallback relay addresses, spec section 4.2

	RateLimitCapacity float64 // token bucket capacity per peer
	RateLimitPerSec   float64 // token bucket refill rate per peer
}

// Default returns the built-in configuration used when no file is
// present, mirroring the teacher's Conf package-level defaults.
func Default() Configuration {
	return Configuration{
		ListenAddr:        ":7846",
		RequireApproval:   true,
		RateLimitCapacity: 64,
		RateLimitPerSec:   32,
	}
}

// Load reads and merges path into the defaults. A missing file is not
// an error; every other error is.
func Load(path string) (Configuration, error) {
	cfg := Default()

	f, err := ini.LoadSources(ini.LoadOptions{
		Loose:            true,
		AllowShadows:     true,
		AllowBooleanKeys: true,
	}, path)
	if err != nil {
		return cfg, fmt.Errorf("config: %s: %w", path, err)
	}

	if sec := f.Section("p2p"); sec != nil {
		if k := sec.Key("listen"); k.String() != "" {
			cfg.ListenAddr = k.String()
		}
		if k := sec.Key("secret_key_path"); k.String() != "" {
			cfg.SecretKeyPath = k.String()
		}
		if sec.HasKey("require_approval") {
			cfg.RequireApproval = sec.Key("require_approval").MustBool(cfg.RequireApproval)
		}
		if k := sec.Key("relay_servers"); k.String() != "" {
			cfg.RelayServers = splitList(k.String())
		}
		if sec.HasKey("rate_limit_capacity") {
			cfg.RateLimitCapacity = sec.Key("rate_limit_capacity").MustFloat64(cfg.RateLimitCapacity)
		}
		if sec.HasKey("rate_limit_per_sec") {
			cfg.RateLimitPerSec = sec.Key("rate_limit_per_sec").MustFloat64(cfg.RateLimitPerSec)
		}
	}
	if sec := f.Section("iroh"); sec != nil {
		if k := sec.Key("secret_key_path"); k.String() != "" {
			cfg.SecretKeyPath = k.String()
		}
		if k := sec.Key("relay_servers"); k.String() != "" {
			cfg.RelayServers = splitList(k.String())
		}
	}

	if sec := f.Section("approved_clients"); sec != nil {
		cfg.ApprovedClients = append(cfg.ApprovedClients, keysOf(sec)...)
	}
	if sec := f.Section("approved_servers"); sec != nil {
		cfg.ApprovedServers = append(cfg.ApprovedServers, keysOf(sec)...)
	}
	if sec := f.Section("usb"); sec != nil {
		if k := sec.Key("filters"); k.String() != "" {
			cfg.UsbFilters = usbdev.FilterSet(splitList(k.String()))
		}
	}

	return cfg, nil
}

// keysOf returns every key name in an ini section, used for the
// approved_clients/approved_servers sections where peer ids are listed
// as bare keys (one per line) rather than key=value pairs.
func keysOf(sec *ini.Section) []string {
	names := sec.KeyStrings()
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, strings.TrimSpace(n))
	}
	return out
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
