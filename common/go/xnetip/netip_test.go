package xnetip

import (
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		addr     string
		mask     net.IPMask
		expected string
	}{
		{
			name:     "IPv4 host",
			text:     "192.0.2.1",
			addr:     "192.0.2.1",
			mask:     net.CIDRMask(32, 32),
			expected: "192.0.2.1/32",
		},
		{
			name:     "IPv4 prefix clears host bits",
			text:     "10.1.2.3/8",
			addr:     "10.0.0.0",
			mask:     net.CIDRMask(8, 32),
			expected: "10.0.0.0/8",
		},
		{
			name:     "IPv4 /0",
			text:     "0.0.0.0/0",
			addr:     "0.0.0.0",
			mask:     net.CIDRMask(0, 32),
			expected: "0.0.0.0/0",
		},
		{
			name:     "IPv4 contiguous mask",
			text:     "192.168.1.7/255.255.255.0",
			addr:     "192.168.1.0",
			mask:     net.CIDRMask(24, 32),
			expected: "192.168.1.0/24",
		},
		{
			name:     "IPv4 non-contiguous mask",
			text:     "10.20.30.40/255.0.255.0",
			addr:     "10.0.30.0",
			mask:     net.IPv4Mask(255, 0, 255, 0),
			expected: "10.0.30.0/255.0.255.0",
		},
		{
			name:     "IPv6 prefix",
			text:     "2001:db8::1/32",
			addr:     "2001:db8::",
			mask:     net.CIDRMask(32, 128),
			expected: "2001:db8::/32",
		},
		{
			name:     "IPv6 interface identifier mask",
			text:     "2001:db8::aa:bb/::ffff:ffff:ffff:ffff",
			addr:     "::aa:bb",
			mask:     net.IPMask(netip.MustParseAddr("::ffff:ffff:ffff:ffff").AsSlice()),
			expected: "::aa:bb/::ffff:ffff:ffff:ffff",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := Parse(tt.text)
			require.NoError(t, err)

			assert.Equal(t, netip.MustParseAddr(tt.addr), n.Addr)
			assert.Equal(t, []byte(tt.mask), n.MaskBytes())
			assert.Equal(t, tt.expected, n.String())
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, text := range []string{
		"",
		"10.0.0.256",
		"10.0.0.0/33",
		"10.0.0.0/-1",
		"10.0.0.0/ffff::",
		"2001:db8::/255.255.0.0",
		"fe80::1%eth0",
		"10.0.0.0/mask",
	} {
		_, err := Parse(text)
		assert.Error(t, err, text)
	}
}

func TestNewNetWithMask(t *testing.T) {
	_, err := NewNetWithMask(netip.MustParseAddr("10.0.0.1"), net.CIDRMask(64, 128))
	assert.Error(t, err)

	n, err := NewNetWithMask(netip.MustParseAddr("10.0.0.1"), net.CIDRMask(24, 32))
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.0/24", n.String())

	prefix, err := n.ToPrefix()
	require.NoError(t, err)
	assert.Equal(t, netip.MustParsePrefix("10.0.0.0/24"), prefix)
}

func TestInvalid(t *testing.T) {
	assert.False(t, NetWithMask{}.IsValid())
	assert.Equal(t, "invalid", NetWithMask{}.String())
}
