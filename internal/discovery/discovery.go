// Package discovery advertises the hub over mDNS and lets clients find it.
package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"
)

const (
	ServiceType = "_silo-hub._tcp"
	Domain      = "local."

	probeServiceType = "_silo-probe._tcp"
	txtURLKey        = "url="
	txtVersionKey    = "version="
)

// Browser is the subset of *zeroconf.Resolver used here.
type Browser interface {
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

type Registration interface {
	Shutdown()
}

// Publisher registers an mDNS service instance.
type Publisher interface {
	Register(instance, service, domain string, port int, txt []string) (Registration, error)
}

type zeroconfPublisher struct{}

func (zeroconfPublisher) Register(instance, service, domain string, port int, txt []string) (Registration, error) {
	server, err := zeroconf.Register(instance, service, domain, port, txt, nil)
	if err != nil {
		return nil, err
	}
	return server, nil
}

// NewPublisher returns a Publisher backed by the zeroconf responder.
func NewPublisher() Publisher {
	return zeroconfPublisher{}
}

// NewBrowser returns a Browser on all multicast interfaces.
func NewBrowser() (Browser, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mdns resolver: %w", err)
	}
	return resolver, nil
}

// UnescapeInstance reverses the DNS presentation escaping zeroconf applies
// to instance names, so `Silo\ Hub\ \(2\)` becomes "Silo Hub (2)".
func UnescapeInstance(name string) string {
	if !strings.Contains(name, `\`) {
		return name
	}
	var b strings.Builder
	b.Grow(len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c != '\\' || i+1 == len(name) {
			b.WriteByte(c)
			continue
		}
		if i+3 < len(name) && isDigit(name[i+1]) && isDigit(name[i+2]) && isDigit(name[i+3]) {
			v := int(name[i+1]-'0')*100 + int(name[i+2]-'0')*10 + int(name[i+3]-'0')
			if v <= 255 {
				b.WriteByte(byte(v))
				i += 3
				continue
			}
		}
		b.WriteByte(name[i+1])
		i++
	}
	return b.String()
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// HubURL extracts the hub URL from an advertisement, falling back to the
// first advertised address when the url TXT record is missing.
func HubURL(entry *zeroconf.ServiceEntry) string {
	if entry == nil {
		return ""
	}
	for _, txt := range entry.Text {
		if strings.HasPrefix(txt, txtURLKey) {
			return strings.TrimPrefix(txt, txtURLKey)
		}
	}
	if entry.Port == 0 {
		return ""
	}
	var host string
	switch {
	case len(entry.AddrIPv4) > 0:
		host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		host = entry.AddrIPv6[0].String()
	default:
		return ""
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(entry.Port))
}

func txtVersion(entry *zeroconf.ServiceEntry) string {
	for _, txt := range entry.Text {
		if strings.HasPrefix(txt, txtVersionKey) {
			return strings.TrimPrefix(txt, txtVersionKey)
		}
	}
	return ""
}
