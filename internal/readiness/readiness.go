// Package readiness implements the Readiness Prober (C11): after a domain
// is Running, wait for a DHCP lease, then HTTP-ready on the guest's mapped
// port with the domain as the Host header. Grounded on
// h3ow3d-nlab/internal/dashboard/dashboard.go's polling idiom (renderVMs'
// DHCPLeaseIP loop, sshReachable's single-shot reachability probe), with
// the SSH check generalized into an HTTP check per §4.11.
package readiness

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/dockvirt/dockvirt/internal/dockvirt"
	"github.com/dockvirt/dockvirt/internal/hypervisor"
)

// Defaults from §4.11.
const (
	DefaultLeaseTimeout = 120 * time.Second
	DefaultHTTPTimeout  = 180 * time.Second
	httpPollBase        = 2 * time.Second
)

// Result is the outcome of probing one VM for readiness.
type Result struct {
	IP     string
	HTTPOK bool
}

// Probe waits for a lease, then (if port is non-nil) polls HTTP until a
// 2xx/3xx response or timeout (§4.11). LeaseTimeout leaves Result.IP empty
// and returns the LeaseTimeout error; the caller (the engine) treats this
// as a non-fatal warning, not a domain-destroying failure (§4.7, §7).
func Probe(ctx context.Context, driver *hypervisor.Driver, name, network, domain string, port *int, leaseTimeout, httpTimeout time.Duration) (Result, error) {
	ip, err := driver.Lease(ctx, name, network, leaseTimeout)
	if err != nil {
		return Result{}, err
	}

	if port == nil {
		return Result{IP: ip}, nil
	}

	ok, err := pollHTTP(ctx, ip, *port, domain, httpTimeout)
	if err != nil {
		return Result{IP: ip}, err
	}
	return Result{IP: ip, HTTPOK: ok}, nil
}

// pollHTTP polls http://ip:port/ with Host: domain until a 2xx/3xx response
// or httpTimeout elapses, using jittered backoff per the design notes
// ("no event source to subscribe to").
func pollHTTP(ctx context.Context, ip string, port int, domain string, httpTimeout time.Duration) (bool, error) {
	deadline := time.Now().Add(httpTimeout)
	client := &http.Client{Timeout: 5 * time.Second}

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://%s:%d/", ip, port), nil)
		if err == nil {
			req.Host = domain
			if resp, err := client.Do(req); err == nil {
				resp.Body.Close()
				if resp.StatusCode >= 200 && resp.StatusCode < 400 {
					return true, nil
				}
			}
		}

		if time.Now().After(deadline) {
			return false, dockvirt.New(dockvirt.HTTPTimeout, "guest never answered HTTP", fmt.Sprintf("%s:%d", ip, port), "inspect the guest's reverse proxy and container logs")
		}

		jitter := time.Duration(rand.Int63n(int64(httpPollBase)))
		select {
		case <-ctx.Done():
			return false, dockvirt.Wrap(dockvirt.Cancelled, ctx.Err(), "HTTP readiness polling", ip, "")
		case <-time.After(httpPollBase + jitter):
		}
	}
}
