package query

import (
	"strconv"

	"github.com/fiam/ec2core/pkg/ec2core/types"
)

// Field extracts the value a filter compares against
type Field func(instance *types.Instance) string

var defaultFields = map[string]Field{
	"private-ip-address":  func(i *types.Instance) string { return i.PrivateIP },
	"private-dns-name":    func(i *types.Instance) string { return i.PrivateDNSName },
	"ip-address":          func(i *types.Instance) string { return i.PublicIP },
	"dns-name":            func(i *types.Instance) string { return i.PublicDNSName },
	"instance-id":         func(i *types.Instance) string { return i.ID },
	"instance-state-name": func(i *types.Instance) string { return string(i.State) },
	"instance-state-code": func(i *types.Instance) string { return strconv.Itoa(types.StateCode(i.State)) },
	"instance-type":       func(i *types.Instance) string { return i.InstanceType },
	"image-id":            func(i *types.Instance) string { return i.ImageID },
	"availability-zone":   func(i *types.Instance) string { return i.AvailabilityZone },
	"reservation-id":      func(i *types.Instance) string { return i.ReservationID },
	"client-token":        func(i *types.Instance) string { return i.ClientToken },
	"key-name":            func(i *types.Instance) string { return i.KeyName },
}

// matchValue reports whether actual equals pattern, where * in pattern
// matches any run of characters and ? matches exactly one. Every other
// character is literal. Empty actual values never match.
func matchValue(pattern string, actual string) bool {
	if actual == "" {
		return false
	}
	p, a := []rune(pattern), []rune(actual)
	pi, ai := 0, 0
	star, mark := -1, 0
	for ai < len(a) {
		switch {
		case pi < len(p) && p[pi] == '*':
			star, mark = pi, ai
			pi++
		case pi < len(p) && (p[pi] == '?' || p[pi] == a[ai]):
			pi++
			ai++
		case star >= 0:
			pi = star + 1
			mark++
			ai = mark
		default:
			return false
		}
	}
	for pi < len(p) && p[pi] == '*' {
		pi++
	}
	return pi == len(p)
}

func matchAny(patterns []string, actual string) bool {
	for _, p := range patterns {
		if matchValue(p, actual) {
			return true
		}
	}
	return false
}
