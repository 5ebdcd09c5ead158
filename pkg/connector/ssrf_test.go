package connector

import (
	"context"
	"net"
	"testing"
)

type fakeResolver struct {
	byHost map[string][]net.IPAddr
	calls  int
	seq    [][]net.IPAddr // when set, overrides byHost per successive call
}

func (f *fakeResolver) LookupIPAddr(_ context.Context, host string) ([]net.IPAddr, error) {
	f.calls++
	if len(f.seq) > 0 {
		idx := f.calls - 1
		if idx >= len(f.seq) {
			idx = len(f.seq) - 1
		}
		return f.seq[idx], nil
	}
	return f.byHost[host], nil
}

func ipAddrs(ips ...string) []net.IPAddr {
	out := make([]net.IPAddr, 0, len(ips))
	for _, s := range ips {
		out = append(out, net.IPAddr{IP: net.ParseIP(s)})
	}
	return out
}

func TestDomainAllowed_ExactMatch(t *testing.T) {
	if !domainAllowed("example.com", []string{"example.com"}) {
		t.Fatal("expected exact match to be allowed")
	}
}

func TestDomainAllowed_SubdomainMatch(t *testing.T) {
	if !domainAllowed("api.example.com", []string{"example.com"}) {
		t.Fatal("expected subdomain to be allowed")
	}
}

func TestDomainAllowed_SuffixOnlyMatchRejected(t *testing.T) {
	if domainAllowed("evilexample.com", []string{"example.com"}) {
		t.Fatal("suffix-only match (no dot boundary) must be rejected")
	}
}

func TestValidateURL_RejectsUnsupportedScheme(t *testing.T) {
	_, _, err := validateURL(context.Background(), &fakeResolver{}, "ftp://example.com/x", []string{"example.com"})
	if err == nil {
		t.Fatal("expected error for non-http(s) scheme")
	}
}

func TestValidateURL_RejectsDomainNotAllowed(t *testing.T) {
	resolver := &fakeResolver{byHost: map[string][]net.IPAddr{"evilexample.com": ipAddrs("8.8.8.8")}}
	_, _, err := validateURL(context.Background(), resolver, "http://evilexample.com/foo", []string{"example.com"})
	cerr, ok := err.(*ConnectorError)
	if !ok {
		t.Fatalf("expected *ConnectorError, got %T: %v", err, err)
	}
	if cerr.Code != ErrDomainNotAllowed {
		t.Fatalf("expected domain_not_allowed, got %s", cerr.Code)
	}
}

func TestValidateURL_RejectsPrivateIP(t *testing.T) {
	resolver := &fakeResolver{byHost: map[string][]net.IPAddr{"internal.example.com": ipAddrs("10.0.0.5")}}
	_, _, err := validateURL(context.Background(), resolver, "http://internal.example.com/foo", []string{"example.com"})
	cerr, ok := err.(*ConnectorError)
	if !ok {
		t.Fatalf("expected *ConnectorError, got %T: %v", err, err)
	}
	if cerr.Code != ErrSSRFBlocked {
		t.Fatalf("expected ssrf_blocked, got %s", cerr.Code)
	}
}

func TestValidateURL_AllowsPublicIP(t *testing.T) {
	resolver := &fakeResolver{byHost: map[string][]net.IPAddr{"api.example.com": ipAddrs("93.184.216.34")}}
	_, ipSet, err := validateURL(context.Background(), resolver, "http://api.example.com/foo", []string{"example.com"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := ipSet["93.184.216.34"]; !ok {
		t.Fatal("expected resolved IP set to include the public address")
	}
}

func TestResolveIPSet_DNSDriftDetection(t *testing.T) {
	resolver := &fakeResolver{seq: [][]net.IPAddr{
		ipAddrs("93.184.216.34"),
		ipAddrs("10.0.0.1"),
	}}

	first, err := resolveIPSet(context.Background(), resolver, "api.example.com")
	if err != nil {
		t.Fatalf("unexpected error on first resolution: %v", err)
	}

	_, err = resolveIPSet(context.Background(), resolver, "api.example.com")
	if err == nil {
		t.Fatal("expected second resolution to hit the blocked-range check")
	}

	if ipSetsEqual(first, map[string]struct{}{"10.0.0.1": {}}) {
		t.Fatal("resolved sets should not be considered equal across drift")
	}
}

func TestValidateRedirectURL_BlocksSchemeDowngrade(t *testing.T) {
	resolver := &fakeResolver{byHost: map[string][]net.IPAddr{"example.com": ipAddrs("93.184.216.34")}}
	err := ValidateRedirectURL(context.Background(), resolver, "https://example.com/a", "http://example.com/b", []string{"example.com"})
	if err == nil {
		t.Fatal("expected scheme downgrade to be blocked")
	}
}

func TestValidateRedirectURL_AllowsSafeSameSchemeRedirect(t *testing.T) {
	resolver := &fakeResolver{byHost: map[string][]net.IPAddr{"example.com": ipAddrs("93.184.216.34")}}
	err := ValidateRedirectURL(context.Background(), resolver, "https://example.com/a", "https://example.com/b", []string{"example.com"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
