package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/grandcat/zeroconf"
)

// probePort is advertised by the throwaway probe instance; nothing listens on it.
const probePort = 9

// Client locates a hub on the local network.
type Client struct {
	browser   Browser
	publisher Publisher
}

func NewClient(browser Browser, publisher Publisher) *Client {
	return &Client{browser: browser, publisher: publisher}
}

// Discover returns the URL of the first hub that answers within timeout.
func (c *Client) Discover(ctx context.Context, timeout time.Duration) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if c.publisher != nil {
		host, _ := os.Hostname()
		probe := fmt.Sprintf("silo-probe-%s-%d", host, os.Getpid())
		reg, err := c.publisher.Register(probe, probeServiceType, Domain, probePort, nil)
		if err != nil {
			slog.Debug("mDNS probe registration failed", "error", err)
		} else {
			defer reg.Shutdown()
		}
	}

	entries := make(chan *zeroconf.ServiceEntry, 8)
	if err := c.browser.Browse(ctx, ServiceType, Domain, entries); err != nil {
		slog.Warn("mDNS browse failed", "error", err)
		return "", false
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("No hub found on the local network", "timeout", timeout)
			return "", false
		case entry, ok := <-entries:
			if !ok {
				return "", false
			}
			if url := HubURL(entry); url != "" {
				slog.Info("Discovered hub", "instance", UnescapeInstance(entry.Instance), "url", url)
				return url, true
			}
		}
	}
}

// Discover browses with a fresh resolver. Any mDNS failure reports not found.
func Discover(ctx context.Context, timeout time.Duration) (string, bool) {
	browser, err := NewBrowser()
	if err != nil {
		slog.Warn("mDNS unavailable", "error", err)
		return "", false
	}
	return NewClient(browser, NewPublisher()).Discover(ctx, timeout)
}

// Listen logs every hub advertisement seen until ctx is cancelled.
func Listen(ctx context.Context, browser Browser) error {
	entries := make(chan *zeroconf.ServiceEntry, 8)
	if err := browser.Browse(ctx, ServiceType, Domain, entries); err != nil {
		return fmt.Errorf("failed to browse for hubs: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case entry, ok := <-entries:
			if !ok {
				return nil
			}
			if entry == nil {
				continue
			}
			slog.Info("Observed hub advertisement",
				"instance", UnescapeInstance(entry.Instance),
				"host", entry.HostName,
				"port", entry.Port,
				"url", HubURL(entry),
				"version", txtVersion(entry))
		}
	}
}
