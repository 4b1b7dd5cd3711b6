// Package discovery advertises the status page on the local network via mDNS.
package discovery

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/enbility/zeroconf/v3"
)

// DNS-SD constants.
const (
	ServiceType        = "_http._tcp"
	Domain             = "local."
	MaxInstanceNameLen = 63
	maxTXTLen          = 255 // one TXT string, key included
)

// Info describes what is advertised.
type Info struct {
	Instance  string
	Port      int
	Signals   []string
	SessionID string
	Panel     string
}

// InstanceName builds "checkup-sensor-<host>", trimmed to the DNS-SD limit.
func InstanceName(hostname string) string {
	host, _, _ := strings.Cut(hostname, ".")
	name := "checkup-sensor"
	if host != "" {
		name += "-" + host
	}
	if len(name) > MaxInstanceNameLen {
		name = name[:MaxInstanceNameLen]
	}
	return name
}

// TXT encodes info as DNS-SD TXT strings in a fixed order.
func TXT(info Info) []string {
	txt := []string{"path=/", "json=/index.json"}
	if len(info.Signals) > 0 {
		txt = append(txt, clip("signals="+strings.Join(info.Signals, ",")))
	}
	if info.Panel != "" {
		txt = append(txt, "panel="+info.Panel)
	}
	if info.SessionID != "" {
		txt = append(txt, "session="+info.SessionID)
	}
	return txt
}

func clip(s string) string {
	if len(s) > maxTXTLen {
		return s[:maxTXTLen]
	}
	return s
}

// PortFromAddr extracts the TCP port from a listen address such as ":80".
func PortFromAddr(addr string) (int, error) {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("discovery: parse address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(p)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("discovery: invalid port in %q", addr)
	}
	return port, nil
}

// Advertiser registers the status page with zeroconf.
type Advertiser struct {
	iface string

	mu     sync.Mutex
	server *zeroconf.Server
}

// NewAdvertiser creates an advertiser bound to the named interface, or to
// all interfaces if iface is empty.
func NewAdvertiser(iface string) *Advertiser {
	return &Advertiser{iface: iface}
}

func (a *Advertiser) interfaces() []net.Interface {
	if a.iface == "" {
		return nil
	}
	iface, err := net.InterfaceByName(a.iface)
	if err != nil {
		return nil
	}
	return []net.Interface{*iface}
}

// Start begins advertising, replacing any previous registration.
func (a *Advertiser) Start(info Info) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	server, err := zeroconf.Register(
		info.Instance,
		ServiceType,
		Domain,
		info.Port,
		TXT(info),
		a.interfaces(),
	)
	if err != nil {
		return fmt.Errorf("discovery: register %s: %w", info.Instance, err)
	}
	a.server = server
	return nil
}

// Stop withdraws the advertisement. Safe to call when not started.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}
