//go:build linux

package iouxx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddressV4(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    [4]byte
		wantErr bool
	}{
		{"plain", "192.168.1.1", [4]byte{192, 168, 1, 1}, false},
		{"zero", "0.0.0.0", [4]byte{0, 0, 0, 0}, false},
		{"max", "255.255.255.255", [4]byte{255, 255, 255, 255}, false},
		{"leading_zero", "192.168.01.1", [4]byte{}, true},
		{"too_few_parts", "1.2.3", [4]byte{}, true},
		{"octet_out_of_range", "1.2.3.256", [4]byte{}, true},
		{"non_digit", "1.2.3.a", [4]byte{}, true},
		{"empty", "", [4]byte{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAddressV4(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Octets())
			assert.Equal(t, tt.in, got.String())
		})
	}
}

func TestAddressV6RecommendedForm(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"compress_middle_run", "2001:0db8:0000:0000:0000:0000:0000:0001", "2001:db8::1"},
		{"unspecified", "::", "::"},
		{"loopback", "::1", "::1"},
		{"no_compressible_run", "2001:db8:1:2:3:4:5:6", "2001:db8:1:2:3:4:5:6"},
		{"ties_broken_by_first_run", "2001:0:0:1:0:0:1:1", "2001::1:0:0:1:1"},
		{"v4_mapped", "::ffff:192.0.2.1", "::ffff:192.0.2.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, err := ParseAddressV6(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, addr.String())
		})
	}
}

func TestAddressV6FormatGrammar(t *testing.T) {
	addr, err := ParseAddressV6("2001:db8::1")
	require.NoError(t, err)

	full, err := addr.Format("f")
	require.NoError(t, err)
	assert.Equal(t, "2001:db8:0:0:0:0:0:1", full)

	fullZeros, err := addr.Format("fz")
	require.NoError(t, err)
	assert.Equal(t, "2001:0db8:0000:0000:0000:0000:0000:0001", fullZeros)

	upper, err := addr.Format("fu")
	require.NoError(t, err)
	assert.Equal(t, "2001:DB8:0:0:0:0:0:1", upper)

	_, err = addr.Format("rf")
	assert.Error(t, err)

	_, err = addr.Format("mn")
	assert.Error(t, err)

	_, err = addr.Format("x")
	assert.Error(t, err)
}

func TestAddressV6MixedFormForcing(t *testing.T) {
	addr, err := ParseAddressV6("2001:db8::1")
	require.NoError(t, err)

	mixed, err := addr.Format("m")
	require.NoError(t, err)
	assert.Equal(t, "2001:db8:0:0:0:0:0.0.0.1", mixed)

	mapped, err := ParseAddressV6("::ffff:192.0.2.1")
	require.NoError(t, err)
	noMixed, err := mapped.Format("n")
	require.NoError(t, err)
	assert.Equal(t, "0:0:0:0:0:ffff:c000:201", noMixed)
}

func TestAddressV6RejectsMalformed(t *testing.T) {
	tests := []string{
		"1:2:3:4:5:6:7:8:9",
		"1::2::3",
		"1:2:3:4:5:6:7",
		"gggg::1",
		"192.0.2.1::1",
	}
	for _, in := range tests {
		t.Run(in, func(t *testing.T) {
			_, err := ParseAddressV6(in)
			assert.Error(t, err)
		})
	}
}

func TestPeerInfoSockaddrRoundTrip(t *testing.T) {
	t.Run("v4", func(t *testing.T) {
		addr, err := ParseAddressV4("10.0.0.5")
		require.NoError(t, err)
		p := PeerInfo{Family: FamilyV4, V4: SocketV4Info{Addr: addr, Port: 8080}}

		buf, err := p.sockaddrStorage()
		require.NoError(t, err)

		decoded, err := peerInfoFromSockaddr(buf)
		require.NoError(t, err)
		assert.Equal(t, p, decoded)
	})

	t.Run("v6", func(t *testing.T) {
		addr, err := ParseAddressV6("2001:db8::1")
		require.NoError(t, err)
		p := PeerInfo{Family: FamilyV6, V6: SocketV6Info{Addr: addr, Port: 443, ScopeID: 2}}

		buf, err := p.sockaddrStorage()
		require.NoError(t, err)

		decoded, err := peerInfoFromSockaddr(buf)
		require.NoError(t, err)
		assert.Equal(t, p, decoded)
	})

	t.Run("unspecified_family_rejected", func(t *testing.T) {
		_, err := PeerInfo{}.sockaddrStorage()
		assert.Error(t, err)
	})
}
