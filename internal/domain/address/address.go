// Package address parses and validates domain://path memory addresses.
package address

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/mnemolabs/palace/internal/domain"
)

// SystemDomain is reserved for pseudo-addresses served by the resolver
// rather than the store.
const SystemDomain = "system"

var segmentRE = regexp.MustCompile(`^[a-z0-9_-]+$`)

// Address is a parsed domain://path reference.
type Address struct {
	Domain string
	Path   string
}

// Parse validates raw against the domain allowlist and returns its parts.
// The system domain is always accepted.
func Parse(raw string, validDomains []string) (Address, error) {
	dom, rest, ok := strings.Cut(raw, "://")
	if !ok || dom == "" {
		return Address{}, fmt.Errorf("parse %q: %w", raw, domain.ErrInvalidPath)
	}

	if dom != SystemDomain && !contains(validDomains, dom) {
		return Address{}, fmt.Errorf("parse %q: %w", raw, domain.ErrInvalidDomain)
	}

	rest = strings.Trim(rest, "/")
	if rest == "" {
		return Address{}, fmt.Errorf("parse %q: empty path: %w", raw, domain.ErrInvalidPath)
	}
	for _, seg := range strings.Split(rest, "/") {
		if !segmentRE.MatchString(seg) {
			return Address{}, fmt.Errorf("parse %q: segment %q: %w", raw, seg, domain.ErrInvalidPath)
		}
	}

	return Address{Domain: dom, Path: rest}, nil
}

// String renders the canonical domain://path form.
func (a Address) String() string {
	return a.Domain + "://" + a.Path
}

// IsSystem reports whether the address targets the reserved system domain.
func (a Address) IsSystem() bool {
	return a.Domain == SystemDomain
}

// Segments returns the slash-separated path tokens.
func (a Address) Segments() []string {
	return strings.Split(a.Path, "/")
}

// Parent returns the address one segment up, and false at the root.
func (a Address) Parent() (Address, bool) {
	idx := strings.LastIndexByte(a.Path, '/')
	if idx < 0 {
		return Address{}, false
	}
	return Address{Domain: a.Domain, Path: a.Path[:idx]}, true
}

// Child returns the address extended by one segment.
func (a Address) Child(segment string) Address {
	return Address{Domain: a.Domain, Path: a.Path + "/" + segment}
}

// ValidSegment reports whether s is a legal path segment or title.
func ValidSegment(s string) bool {
	return segmentRE.MatchString(s)
}

// SystemKind identifies a system pseudo-address.
type SystemKind string

const (
	SystemBoot   SystemKind = "boot"
	SystemIndex  SystemKind = "index"
	SystemRecent SystemKind = "recent"
)

const (
	// DefaultRecentLimit applies to system://recent without an explicit count.
	DefaultRecentLimit = 10
	// MaxRecentLimit caps the count on system://recent/N.
	MaxRecentLimit = 100
)

// ParseSystem interprets a system-domain address. For system://recent/N the
// returned limit is clamped to MaxRecentLimit.
func ParseSystem(a Address) (SystemKind, int, error) {
	segs := a.Segments()
	switch segs[0] {
	case "boot":
		if len(segs) != 1 {
			return "", 0, fmt.Errorf("system address %q: %w", a.String(), domain.ErrInvalidPath)
		}
		return SystemBoot, 0, nil
	case "index":
		if len(segs) != 1 {
			return "", 0, fmt.Errorf("system address %q: %w", a.String(), domain.ErrInvalidPath)
		}
		return SystemIndex, 0, nil
	case "recent":
		limit := DefaultRecentLimit
		if len(segs) == 2 {
			n, err := strconv.Atoi(segs[1])
			if err != nil || n < 1 {
				return "", 0, fmt.Errorf("system address %q: %w", a.String(), domain.ErrInvalidPath)
			}
			limit = min(n, MaxRecentLimit)
		} else if len(segs) > 2 {
			return "", 0, fmt.Errorf("system address %q: %w", a.String(), domain.ErrInvalidPath)
		}
		return SystemRecent, limit, nil
	default:
		return "", 0, fmt.Errorf("system address %q: %w", a.String(), domain.ErrAddressNotFound)
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
