package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	defaultLookupTimeout = 2 * time.Second
	maxNameAttempts      = 20
)

type AdvertiserConfig struct {
	Instance string
	Port     int
	URL      string
	Version  string
	// LookupTimeout bounds each name-conflict check.
	LookupTimeout time.Duration
}

// BrowserFactory opens a new resolver. A zeroconf resolver shuts its sockets
// down once its first browse ends, so each name check needs its own.
type BrowserFactory func() (Browser, error)

// Advertiser publishes the hub under ServiceType, renaming itself when the
// instance name is already taken on the network.
type Advertiser struct {
	cfg        AdvertiserConfig
	publisher  Publisher
	newBrowser BrowserFactory

	mu       sync.Mutex
	reg      Registration
	instance string
}

// NewAdvertiser with a nil newBrowser skips the conflict check.
func NewAdvertiser(cfg AdvertiserConfig, publisher Publisher, newBrowser BrowserFactory) *Advertiser {
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = defaultLookupTimeout
	}
	return &Advertiser{cfg: cfg, publisher: publisher, newBrowser: newBrowser}
}

// Start registers the advertisement and returns the instance name used.
func (a *Advertiser) Start(ctx context.Context) (string, error) {
	instance, err := a.freeInstanceName(ctx)
	if err != nil {
		return "", err
	}
	if instance != a.cfg.Instance {
		slog.Warn("mDNS instance name taken, advertising under a new name",
			"requested", a.cfg.Instance,
			"instance", instance)
	}

	txt := []string{txtURLKey + a.cfg.URL}
	if a.cfg.Version != "" {
		txt = append(txt, txtVersionKey+a.cfg.Version)
	}

	reg, err := a.publisher.Register(instance, ServiceType, Domain, a.cfg.Port, txt)
	if err != nil {
		return "", fmt.Errorf("failed to register mdns service: %w", err)
	}

	a.mu.Lock()
	a.reg = reg
	a.instance = instance
	a.mu.Unlock()

	slog.Info("Hub advertised over mDNS",
		"instance", instance,
		"service", ServiceType,
		"port", a.cfg.Port,
		"url", a.cfg.URL)
	return instance, nil
}

func (a *Advertiser) Stop() {
	a.mu.Lock()
	reg := a.reg
	a.reg = nil
	a.mu.Unlock()

	if reg != nil {
		reg.Shutdown()
		slog.Info("mDNS advertisement withdrawn", "instance", a.instance)
	}
}

func (a *Advertiser) freeInstanceName(ctx context.Context) (string, error) {
	if a.newBrowser == nil {
		return a.cfg.Instance, nil
	}
	taken, err := a.takenNames(ctx)
	if err != nil {
		slog.Warn("mDNS name check failed, using name as is", "instance", a.cfg.Instance, "error", err)
		return a.cfg.Instance, nil
	}
	for n := 1; n <= maxNameAttempts; n++ {
		candidate := a.cfg.Instance
		if n > 1 {
			candidate = fmt.Sprintf("%s (%d)", a.cfg.Instance, n)
		}
		if !taken[candidate] {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free mdns instance name for %q", a.cfg.Instance)
}

// takenNames browses ServiceType for LookupTimeout on a fresh resolver and
// returns the unescaped instance names seen. zeroconf responders ignore
// instance lookups for names that need DNS escaping, so this browses.
func (a *Advertiser) takenNames(ctx context.Context) (map[string]bool, error) {
	browser, err := a.newBrowser()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.LookupTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 8)
	if err := browser.Browse(ctx, ServiceType, Domain, entries); err != nil {
		return nil, err
	}

	taken := make(map[string]bool)
	for {
		select {
		case <-ctx.Done():
			return taken, nil
		case entry, ok := <-entries:
			if !ok {
				return taken, nil
			}
			if entry != nil {
				taken[UnescapeInstance(entry.Instance)] = true
			}
		}
	}
}
