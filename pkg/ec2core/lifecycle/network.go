package lifecycle

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"sync"
)

// reservedLow is the number of addresses at the start of every pool that
// are never handed out (network address, gateway, DNS and one spare).
const reservedLow = 4

var errPoolExhausted = errors.New("address pool exhausted")

// addressPool hands out IPv4 addresses from a prefix
type addressPool struct {
	mu     sync.Mutex
	prefix netip.Prefix
	first  uint32
	last   uint32
	cursor uint32
	used   map[uint32]bool
}

func newAddressPool(cidr string) (*addressPool, error) {
	prefix, err := netip.ParsePrefix(strings.TrimSpace(cidr))
	if err != nil {
		return nil, fmt.Errorf("parsing %q: %w", cidr, err)
	}
	prefix = prefix.Masked()
	if !prefix.Addr().Is4() {
		return nil, fmt.Errorf("%s is not an IPv4 prefix", prefix)
	}
	if prefix.Bits() > 28 {
		return nil, fmt.Errorf("%s is too small, the longest supported prefix is /28", prefix)
	}
	base := toUint32(prefix.Addr())
	// the last address is the broadcast address
	size := uint32(1) << (32 - prefix.Bits())
	return &addressPool{
		prefix: prefix,
		first:  base + reservedLow,
		last:   base + size - 2,
		cursor: base + reservedLow,
		used:   make(map[uint32]bool),
	}, nil
}

func toUint32(addr netip.Addr) uint32 {
	a := addr.As4()
	return binary.BigEndian.Uint32(a[:])
}

func fromUint32(v uint32) netip.Addr {
	var a [4]byte
	binary.BigEndian.PutUint32(a[:], v)
	return netip.AddrFrom4(a)
}

// Allocate returns the next free address, scanning round robin from the
// last allocation so released addresses are not reused immediately
func (p *addressPool) Allocate() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.last - p.first + 1
	for i := uint32(0); i < n; i++ {
		candidate := p.first + (p.cursor-p.first+i)%n
		if p.used[candidate] {
			continue
		}
		p.used[candidate] = true
		p.cursor = candidate + 1
		if p.cursor > p.last {
			p.cursor = p.first
		}
		return fromUint32(candidate).String(), nil
	}
	return "", fmt.Errorf("%w: %s", errPoolExhausted, p.prefix)
}

// AllocateN allocates n addresses or none
func (p *addressPool) AllocateN(n int) ([]string, error) {
	out := make([]string, 0, n)
	for range n {
		addr, err := p.Allocate()
		if err != nil {
			p.Release(out...)
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

// Reserve marks addr as used. It reports false when addr is outside the
// pool or already taken.
func (p *addressPool) Reserve(addr string) bool {
	v, ok := p.index(addr)
	if !ok {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.used[v] {
		return false
	}
	p.used[v] = true
	return true
}

// Release returns addresses to the pool. Addresses outside the pool are
// ignored.
func (p *addressPool) Release(addrs ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, addr := range addrs {
		if v, ok := p.index(addr); ok {
			delete(p.used, v)
		}
	}
}

func (p *addressPool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.used)
}

func (p *addressPool) index(addr string) (uint32, bool) {
	parsed, err := netip.ParseAddr(addr)
	if err != nil || !parsed.Is4() || !p.prefix.Contains(parsed) {
		return 0, false
	}
	v := toUint32(parsed)
	return v, v >= p.first && v <= p.last
}

func dashed(ip string) string {
	return strings.ReplaceAll(ip, ".", "-")
}

func privateDNSName(region string, ip string) string {
	if ip == "" {
		return ""
	}
	if region == "us-east-1" {
		return "ip-" + dashed(ip) + ".ec2.internal"
	}
	return "ip-" + dashed(ip) + "." + region + ".compute.internal"
}

func publicDNSName(region string, ip string) string {
	if ip == "" {
		return ""
	}
	if region == "us-east-1" {
		return "ec2-" + dashed(ip) + ".compute-1.amazonaws.com"
	}
	return "ec2-" + dashed(ip) + "." + region + ".compute.amazonaws.com"
}
