package policy

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moonbotio/moonbot/internal/moonerr"
)

type fakeResolver map[string][]net.IP

func (f fakeResolver) LookupIP(host string) ([]net.IP, error) {
	ips, ok := f[host]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}
	return ips, nil
}

func TestCheckSSRF_LiteralMetadataIP(t *testing.T) {
	err := CheckSSRF("http://169.254.169.254/latest/meta-data/", nil)
	require.Error(t, err)
	me, ok := moonerr.As(err)
	require.True(t, ok)
	assert.Equal(t, moonerr.SSRFBlocked, me.Code)
}

func TestCheckSSRF_LoopbackRejected(t *testing.T) {
	for _, url := range []string{"http://127.0.0.1/", "http://[::1]/"} {
		err := CheckSSRF(url, nil)
		require.Error(t, err, url)
		me, ok := moonerr.As(err)
		require.True(t, ok)
		assert.Equal(t, moonerr.SSRFBlocked, me.Code)
	}
}

func TestCheckSSRF_PrivateRangeViaDNS(t *testing.T) {
	resolver := fakeResolver{"internal.example.com": {net.ParseIP("10.0.0.5")}}
	err := CheckSSRF("http://internal.example.com/", resolver)
	require.Error(t, err)
	me, ok := moonerr.As(err)
	require.True(t, ok)
	assert.Equal(t, moonerr.SSRFBlocked, me.Code)
}

func TestCheckSSRF_PublicAddressAllowed(t *testing.T) {
	resolver := fakeResolver{"example.com": {net.ParseIP("93.184.216.34")}}
	err := CheckSSRF("http://example.com/", resolver)
	assert.NoError(t, err)
}

func TestCheckSSRF_DisallowedScheme(t *testing.T) {
	err := CheckSSRF("file:///etc/passwd", nil)
	require.Error(t, err)
	me, ok := moonerr.As(err)
	require.True(t, ok)
	assert.Equal(t, moonerr.ProtocolNotAllowed, me.Code)
}

func TestCheckSSRF_UnresolvableHost(t *testing.T) {
	resolver := fakeResolver{}
	err := CheckSSRF("http://does-not-exist.invalid/", resolver)
	require.Error(t, err)
	me, ok := moonerr.As(err)
	require.True(t, ok)
	assert.Equal(t, moonerr.SSRFBlocked, me.Code)
}

func TestIsReservedIP(t *testing.T) {
	cases := []struct {
		ip       string
		reserved bool
	}{
		{"127.0.0.1", true},
		{"169.254.169.254", true},
		{"10.1.2.3", true},
		{"192.168.1.1", true},
		{"172.16.5.5", true},
		{"8.8.8.8", false},
		{"93.184.216.34", false},
	}
	for _, c := range cases {
		assert.Equal(t, c.reserved, IsReservedIP(net.ParseIP(c.ip)), c.ip)
	}
}
