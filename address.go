//go:build linux

package iouxx

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

// AddressV4 is a 32-bit IPv4 address stored as four octets in network
// (big-endian, most-significant-octet-first) order.
type AddressV4 struct {
	octets [4]byte
}

// ParseAddressV4 parses the dotted-decimal grammar: exactly four
// dot-separated decimal octets 0-255, no leading zeros except the literal
// "0" itself, no surrounding whitespace.
func ParseAddressV4(s string) (AddressV4, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return AddressV4{}, fmt.Errorf("iouxx: %q is not a dotted-decimal IPv4 address", s)
	}
	var a AddressV4
	for i, p := range parts {
		if p == "" || len(p) > 3 {
			return AddressV4{}, fmt.Errorf("iouxx: invalid IPv4 octet %q", p)
		}
		if p[0] == '0' && len(p) > 1 {
			return AddressV4{}, fmt.Errorf("iouxx: IPv4 octet %q has a leading zero", p)
		}
		for _, c := range p {
			if c < '0' || c > '9' {
				return AddressV4{}, fmt.Errorf("iouxx: invalid IPv4 octet %q", p)
			}
		}
		n, err := strconv.Atoi(p)
		if err != nil || n > 255 {
			return AddressV4{}, fmt.Errorf("iouxx: IPv4 octet %q out of range", p)
		}
		a.octets[i] = byte(n)
	}
	return a, nil
}

// AddressV4FromUint32 builds an address from a 32-bit value in network
// byte order (the representation struct in_addr carries on the wire).
func AddressV4FromUint32(networkOrder uint32) AddressV4 {
	return AddressV4{octets: [4]byte{
		byte(networkOrder >> 24), byte(networkOrder >> 16), byte(networkOrder >> 8), byte(networkOrder),
	}}
}

// Uint32 returns the address as a 32-bit value in network byte order.
func (a AddressV4) Uint32() uint32 {
	return uint32(a.octets[0])<<24 | uint32(a.octets[1])<<16 | uint32(a.octets[2])<<8 | uint32(a.octets[3])
}

// Octets returns the four address bytes, most significant first.
func (a AddressV4) Octets() [4]byte { return a.octets }

// String renders the dotted-decimal form.
func (a AddressV4) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", a.octets[0], a.octets[1], a.octets[2], a.octets[3])
}

// IsUnspecified reports whether a is 0.0.0.0.
func (a AddressV4) IsUnspecified() bool { return a.octets == [4]byte{} }

// AddressV6 is a 128-bit IPv6 address stored as eight 16-bit groups.
type AddressV6 struct {
	groups [8]uint16
}

// ParseAddressV6 parses the standard IPv6 textual grammar: eight
// colon-separated hex groups, at most one "::" run standing in for one or
// more all-zero groups, and an optional embedded dotted-quad IPv4 tail
// occupying the last 32 bits.
func ParseAddressV6(s string) (AddressV6, error) {
	if s == "" {
		return AddressV6{}, fmt.Errorf("iouxx: empty IPv6 address")
	}

	doubleColon := strings.Index(s, "::")
	if strings.Count(s, "::") > 1 {
		return AddressV6{}, fmt.Errorf("iouxx: %q has more than one \"::\"", s)
	}

	var head, tail string
	if doubleColon >= 0 {
		head, tail = s[:doubleColon], s[doubleColon+2:]
	} else {
		head = s
	}

	headGroups, headV4, err := splitV6Groups(head)
	if err != nil {
		return AddressV6{}, err
	}
	var tailGroups []uint16
	var tailV4 bool
	if doubleColon >= 0 {
		tailGroups, tailV4, err = splitV6Groups(tail)
		if err != nil {
			return AddressV6{}, err
		}
	}

	if headV4 && doubleColon >= 0 {
		return AddressV6{}, fmt.Errorf("iouxx: %q embeds IPv4 in a non-trailing position", s)
	}
	if headV4 && tailV4 {
		return AddressV6{}, fmt.Errorf("iouxx: %q embeds IPv4 twice", s)
	}

	var groups [8]uint16
	if doubleColon < 0 {
		if len(headGroups) != 8 {
			return AddressV6{}, fmt.Errorf("iouxx: %q does not have 8 groups", s)
		}
		copy(groups[:], headGroups)
	} else {
		total := len(headGroups) + len(tailGroups)
		if total > 7 {
			return AddressV6{}, fmt.Errorf("iouxx: %q has too many groups to use \"::\"", s)
		}
		copy(groups[:len(headGroups)], headGroups)
		copy(groups[8-len(tailGroups):], tailGroups)
	}

	return AddressV6{groups: groups}, nil
}

// splitV6Groups parses a run of colon-separated hex groups, with an
// optional trailing dotted-quad IPv4 literal. Returns the parsed 16-bit
// groups (the IPv4 tail, if present, contributes its two final groups)
// and whether an IPv4 tail was present.
func splitV6Groups(s string) ([]uint16, bool, error) {
	if s == "" {
		return nil, false, nil
	}
	parts := strings.Split(s, ":")
	groups := make([]uint16, 0, len(parts))
	sawV4 := false
	for i, p := range parts {
		if p == "" {
			return nil, false, fmt.Errorf("iouxx: empty group in %q", s)
		}
		if strings.Contains(p, ".") {
			if i != len(parts)-1 {
				return nil, false, fmt.Errorf("iouxx: embedded IPv4 must be the last group in %q", s)
			}
			v4, err := ParseAddressV4(p)
			if err != nil {
				return nil, false, err
			}
			o := v4.Octets()
			groups = append(groups, uint16(o[0])<<8|uint16(o[1]), uint16(o[2])<<8|uint16(o[3]))
			sawV4 = true
			continue
		}
		if len(p) > 4 {
			return nil, false, fmt.Errorf("iouxx: group %q too long in %q", p, s)
		}
		n, err := strconv.ParseUint(p, 16, 16)
		if err != nil {
			return nil, false, fmt.Errorf("iouxx: invalid hex group %q in %q", p, s)
		}
		groups = append(groups, uint16(n))
	}
	return groups, sawV4, nil
}

// Groups returns the eight 16-bit groups, most significant first.
func (a AddressV6) Groups() [8]uint16 { return a.groups }

// IsUnspecified reports whether a is ::.
func (a AddressV6) IsUnspecified() bool { return a.groups == [8]uint16{} }

// IsLoopback reports whether a is ::1.
func (a AddressV6) IsLoopback() bool {
	return a.groups == [8]uint16{0, 0, 0, 0, 0, 0, 0, 1}
}

// checkMixed reports whether a should render with an embedded IPv4 tail
// under the RFC 5952 "recommended" format: IPv4-compatible (first 80 bits
// zero, last 32 not all zero, group 5 zero) or IPv4-mapped (first 80 bits
// zero, group 5 == 0xffff). The unspecified address and the loopback
// address are excluded per RFC 5952 §5: despite fitting the IPv4-compatible
// bit pattern, :: and ::1 are always rendered in plain compressed form.
func (a AddressV6) checkMixed() (compatOrMapped bool) {
	for i := 0; i < 5; i++ {
		if a.groups[i] != 0 {
			return false
		}
	}
	if a.groups[5] == 0 {
		if a.groups[6] == 0 && a.groups[7] <= 1 {
			return false
		}
		return a.groups[6] != 0 || a.groups[7] != 0
	}
	return a.groups[5] == 0xffff
}

// compressedRange returns [start, end) of the longest run of two or more
// consecutive zero groups to elide as "::", ties broken by first
// occurrence. Returns start == -1 if no run qualifies.
func (a AddressV6) compressedRange() (start, end int) {
	bestStart, bestLen := -1, 0
	curStart, curLen := -1, 0
	for i := 0; i < 8; i++ {
		if a.groups[i] == 0 {
			if curStart < 0 {
				curStart = i
			}
			curLen++
		} else {
			if curLen > bestLen {
				bestStart, bestLen = curStart, curLen
			}
			curStart, curLen = -1, 0
		}
	}
	if curLen > bestLen {
		bestStart, bestLen = curStart, curLen
	}
	if bestLen < 2 {
		return -1, -1
	}
	return bestStart, bestStart + bestLen
}

// String renders a using the RFC 5952 recommended form ("r"), the
// default when no format spec is given.
func (a AddressV6) String() string {
	s, _ := a.Format("")
	return s
}

// Format renders a according to a spec grammar of the characters
// r|R (recommended, RFC 5952 default; exclusive with f/z/m), f|F (full,
// no compression), z|Z (keep leading zeros within a group), m|M (force
// mixed IPv4-embedded form), n|N (no mixed form, exclusive with m outside
// r), and u|U (uppercase hex). An empty spec means "r".
func (a AddressV6) Format(spec string) (string, error) {
	recommended := spec == ""
	full, keepZeros, forceMixed, noMixed, upper := false, false, false, false, false

	for _, c := range spec {
		switch c {
		case 'r', 'R':
			recommended = true
		case 'f', 'F':
			full = true
		case 'z', 'Z':
			keepZeros = true
		case 'm', 'M':
			forceMixed = true
		case 'n', 'N':
			noMixed = true
		case 'u', 'U':
			upper = true
		default:
			return "", fmt.Errorf("iouxx: unknown IPv6 format character %q", string(c))
		}
	}
	if recommended && (full || keepZeros || forceMixed) {
		return "", fmt.Errorf("iouxx: format %q combines \"r\" with f/z/m", spec)
	}
	if forceMixed && noMixed {
		return "", fmt.Errorf("iouxx: format %q combines \"m\" with \"n\"", spec)
	}

	mixed := false
	if !noMixed {
		mixed = forceMixed || (recommended && a.checkMixed())
	}

	hex := func(v uint16) string {
		s := strconv.FormatUint(uint64(v), 16)
		if upper {
			s = strings.ToUpper(s)
		}
		if keepZeros {
			s = strings.Repeat("0", 4-len(s)) + s
		}
		return s
	}

	groupEnd := 8
	var v4Tail string
	if mixed {
		groupEnd = 6
		o := AddressV4FromUint32(uint32(a.groups[6])<<16 | uint32(a.groups[7]))
		v4Tail = o.String()
	}

	start, end := -1, -1
	if !full && recommended {
		start, end = a.compressedRange()
		if end > groupEnd {
			end = groupEnd
			if start >= end {
				start, end = -1, -1
			}
		}
	}

	// Build the address as a sequence of pieces joined by a single colon,
	// with the elided run (if any) represented by one empty piece — two
	// adjacent colons either side of an empty piece naturally render as
	// "::". A run touching either edge needs one extra colon since it has
	// no neighboring piece on that side to supply the usual separator.
	var pieces []string
	i := 0
	for i < groupEnd {
		if i == start {
			pieces = append(pieces, "")
			i = end
			continue
		}
		pieces = append(pieces, hex(a.groups[i]))
		i++
	}
	if mixed {
		pieces = append(pieces, v4Tail)
	}

	var b strings.Builder
	b.WriteString(strings.Join(pieces, ":"))
	if start == 0 {
		b2 := ":" + b.String()
		b.Reset()
		b.WriteString(b2)
	}
	if start >= 0 && end == groupEnd && !mixed {
		b.WriteString(":")
	}
	if b.Len() == 0 {
		b.WriteString("::")
	}
	return b.String(), nil
}

// AddressFamily discriminates the address families a PeerInfo can carry.
type AddressFamily uint8

const (
	FamilyUnspecified AddressFamily = iota
	FamilyV4
	FamilyV6
	FamilyUnix
)

// unixPathCapacity is sun_path's length, fixed by the kernel's
// sockaddr_un layout (x/sys/unix.RawSockaddrUnix.Path on linux/amd64).
const unixPathCapacity = 108

// SocketV4Info is an IPv4 endpoint: address and port, both required by
// bind/connect/accept.
type SocketV4Info struct {
	Addr AddressV4
	Port uint16
}

// SocketV6Info is an IPv6 endpoint, including the flow label and scope id
// the kernel's sockaddr_in6 carries.
type SocketV6Info struct {
	Addr     AddressV6
	Port     uint16
	FlowInfo uint32
	ScopeID  uint32
}

// SocketUnixInfo is a Unix Domain Socket endpoint: a filesystem path (or,
// per Linux's abstract-namespace extension, a name whose first byte is
// NUL). bind/connect/accept all share this one representation.
type SocketUnixInfo struct {
	Path string
}

// PeerInfo is a sum type over the endpoint families a socket operation's
// peer address can resolve to.
type PeerInfo struct {
	Family AddressFamily
	V4     SocketV4Info
	V6     SocketV6Info
	Unix   SocketUnixInfo
}

// String renders the endpoint as host:port (bracketed host for IPv6), or
// the raw path for a Unix Domain Socket endpoint.
func (p PeerInfo) String() string {
	switch p.Family {
	case FamilyV4:
		return fmt.Sprintf("%s:%d", p.V4.Addr.String(), p.V4.Port)
	case FamilyV6:
		return fmt.Sprintf("[%s]:%d", p.V6.Addr.String(), p.V6.Port)
	case FamilyUnix:
		return p.Unix.Path
	default:
		return "<unspecified>"
	}
}

// sockaddrStorage renders p as raw bytes suitable for Build's Addr/Addr2
// fields on connect/bind, in the kernel's sockaddr_in/sockaddr_in6 layout.
func (p PeerInfo) sockaddrStorage() ([]byte, error) {
	switch p.Family {
	case FamilyV4:
		sa := unix.RawSockaddrInet4{Family: unix.AF_INET}
		sa.Addr = p.V4.Addr.octets
		sa.Port = htons(p.V4.Port)
		buf := make([]byte, unsafe.Sizeof(sa))
		*(*unix.RawSockaddrInet4)(unsafe.Pointer(&buf[0])) = sa
		return buf, nil
	case FamilyV6:
		sa := unix.RawSockaddrInet6{Family: unix.AF_INET6}
		sa.Port = htons(p.V6.Port)
		sa.Flowinfo = p.V6.FlowInfo
		sa.Scope_id = p.V6.ScopeID
		groups := p.V6.Addr.Groups()
		for i, g := range groups {
			sa.Addr[i*2] = byte(g >> 8)
			sa.Addr[i*2+1] = byte(g)
		}
		buf := make([]byte, unsafe.Sizeof(sa))
		*(*unix.RawSockaddrInet6)(unsafe.Pointer(&buf[0])) = sa
		return buf, nil
	case FamilyUnix:
		if len(p.Unix.Path) >= unixPathCapacity {
			return nil, fmt.Errorf("iouxx: unix socket path %q exceeds sun_path capacity of %d", p.Unix.Path, unixPathCapacity-1)
		}
		var sa unix.RawSockaddrUnix
		sa.Family = unix.AF_UNIX
		for i := 0; i < len(p.Unix.Path); i++ {
			sa.Path[i] = int8(p.Unix.Path[i])
		}
		buf := make([]byte, unsafe.Sizeof(sa))
		*(*unix.RawSockaddrUnix)(unsafe.Pointer(&buf[0])) = sa
		return buf, nil
	default:
		return nil, fmt.Errorf("iouxx: cannot build sockaddr for unspecified address family")
	}
}

// peerInfoFromSockaddr decodes a kernel-filled sockaddr buffer (as
// written by accept/getpeername/getsockname) back into a PeerInfo.
func peerInfoFromSockaddr(buf []byte) (PeerInfo, error) {
	if len(buf) < 2 {
		return PeerInfo{}, fmt.Errorf("iouxx: sockaddr buffer too small")
	}
	family := *(*uint16)(unsafe.Pointer(&buf[0]))
	switch family {
	case unix.AF_INET:
		if len(buf) < int(unsafe.Sizeof(unix.RawSockaddrInet4{})) {
			return PeerInfo{}, fmt.Errorf("iouxx: truncated sockaddr_in")
		}
		sa := (*unix.RawSockaddrInet4)(unsafe.Pointer(&buf[0]))
		return PeerInfo{
			Family: FamilyV4,
			V4:     SocketV4Info{Addr: AddressV4{octets: sa.Addr}, Port: ntohs(sa.Port)},
		}, nil
	case unix.AF_INET6:
		if len(buf) < int(unsafe.Sizeof(unix.RawSockaddrInet6{})) {
			return PeerInfo{}, fmt.Errorf("iouxx: truncated sockaddr_in6")
		}
		sa := (*unix.RawSockaddrInet6)(unsafe.Pointer(&buf[0]))
		var groups [8]uint16
		for i := range groups {
			groups[i] = uint16(sa.Addr[i*2])<<8 | uint16(sa.Addr[i*2+1])
		}
		return PeerInfo{
			Family: FamilyV6,
			V6: SocketV6Info{
				Addr:     AddressV6{groups: groups},
				Port:     ntohs(sa.Port),
				FlowInfo: sa.Flowinfo,
				ScopeID:  sa.Scope_id,
			},
		}, nil
	case unix.AF_UNIX:
		path := buf[2:]
		if n := bytes.IndexByte(path, 0); n >= 0 {
			path = path[:n]
		}
		return PeerInfo{Family: FamilyUnix, Unix: SocketUnixInfo{Path: string(path)}}, nil
	default:
		return PeerInfo{}, fmt.Errorf("iouxx: unsupported address family %d", family)
	}
}

func htons(v uint16) uint16 { return v<<8 | v>>8 }
func ntohs(v uint16) uint16 { return v<<8 | v>>8 }
