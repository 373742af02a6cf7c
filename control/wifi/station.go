package wifi

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// Interface is a Station for a Linux host, where association itself is handled by the OS
// (wpa_supplicant, NetworkManager, ...).  It watches a network interface for a usable IPv4 address
// and reports EventGotIP when one appears, or EventDisconnected if none appears in time.
type Interface struct {
	Name             string
	AssociateTimeout time.Duration
	PollInterval     time.Duration

	// addrs returns the addresses of the named interface; nil means use the net package.
	addrs func(name string) ([]net.Addr, error)

	mu     sync.Mutex
	cancel context.CancelFunc // cancels the previous watch; must hold mu
}

func interfaceAddrs(name string) ([]net.Addr, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, err
	}
	return iface.Addrs()
}

// usable reports whether addrs contains an IPv4 address that came from a network, not the
// loopback or a link-local fallback.
func usable(addrs []net.Addr) bool {
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip4 := ip.To4(); ip4 != nil && !ip4.IsLoopback() && !ip4.IsLinkLocalUnicast() && !ip4.IsUnspecified() {
			return true
		}
	}
	return false
}

// Associate implements Station.  Each call replaces the watch started by the previous one.
func (i *Interface) Associate(ctx context.Context, events chan<- Event) error {
	addrs := i.addrs
	if addrs == nil {
		addrs = interfaceAddrs
	}
	if _, err := addrs(i.Name); err != nil {
		return fmt.Errorf("interface %q: %w", i.Name, err)
	}
	poll := i.PollInterval
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	timeout := i.AssociateTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	wctx, cancel := context.WithTimeout(ctx, timeout)
	i.mu.Lock()
	if i.cancel != nil {
		i.cancel()
	}
	i.cancel = cancel
	i.mu.Unlock()

	go func() {
		defer cancel()
		report := func(e Event) {
			select {
			case events <- e:
			case <-ctx.Done():
			}
		}
		t := time.NewTicker(poll)
		defer t.Stop()
		for {
			if a, err := addrs(i.Name); err == nil && usable(a) {
				report(EventGotIP)
				return
			}
			select {
			case <-t.C:
			case <-wctx.Done():
				// Superseded by a newer Associate call, or the whole thing was cancelled.
				if ctx.Err() != nil || wctx.Err() == context.Canceled {
					return
				}
				report(EventDisconnected)
				return
			}
		}
	}()
	return nil
}
