package match

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunbk201/netrule/internal/rule/common"
)

func TestPortMatch(t *testing.T) {
	tests := []struct {
		name  string
		value string
		port  uint16
		want  bool
	}{
		{"single hit", "80", 80, true},
		{"single miss", "80", 81, false},
		{"range low edge", "8000-8999", 8000, true},
		{"range inside", "8000-8999", 8500, true},
		{"range high edge", "8000-8999", 8999, true},
		{"range above", "8000-8999", 9000, false},
		{"list", "22, 80,443", 443, true},
		{"list miss", "22,80,443", 8443, false},
		{"any", "any", 1, true},
		{"zero", "0", 0, true},
		{"max", "65535", 65535, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Parse(common.ConditionDstPort, tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.Match(&common.Descriptor{DstPort: tt.port}))
		})
	}
}

func TestPortSourceField(t *testing.T) {
	m, err := Parse(common.ConditionSrcPort, "1024-65535")
	require.NoError(t, err)
	assert.True(t, m.Match(&common.Descriptor{SrcPort: 40000, DstPort: 80}))
	assert.False(t, m.Match(&common.Descriptor{SrcPort: 53, DstPort: 40000}))
}

func TestPortInvalid(t *testing.T) {
	for _, v := range []string{"", "http", "65536", "-1", "90-80", "80-", "1-2-3", ","} {
		t.Run(v, func(t *testing.T) {
			_, err := Parse(common.ConditionDstPort, v)
			var pe *ParseError
			require.True(t, errors.As(err, &pe), "value %q should be rejected", v)
			assert.Equal(t, common.ConditionDstPort, pe.Type)
			assert.Equal(t, v, pe.Value)
		})
	}
}

func TestAddrMatch(t *testing.T) {
	tests := []struct {
		name  string
		value string
		addr  string
		want  bool
	}{
		{"single", "10.0.0.5", "10.0.0.5", true},
		{"single miss", "10.0.0.5", "10.0.0.6", false},
		{"cidr", "192.168.1.0/24", "192.168.1.77", true},
		{"cidr miss", "192.168.1.0/24", "192.168.2.1", false},
		{"cidr unmasked", "192.168.1.9/24", "192.168.1.200", true},
		{"range", "10.0.0.10-10.0.0.20", "10.0.0.15", true},
		{"range miss", "10.0.0.10-10.0.0.20", "10.0.0.21", false},
		{"list", "1.1.1.1,8.8.8.0/24", "8.8.8.8", true},
		{"v6 cidr", "2001:db8::/32", "2001:db8::1", true},
		{"v6 vs v4", "2001:db8::/32", "10.0.0.1", false},
		{"mapped descriptor", "10.0.0.0/8", "::ffff:10.1.2.3", true},
		{"any", "any", "203.0.113.9", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Parse(common.ConditionDstAddr, tt.value)
			require.NoError(t, err)
			d := &common.Descriptor{DstAddr: netip.MustParseAddr(tt.addr)}
			assert.Equal(t, tt.want, m.Match(d))
		})
	}
}

func TestAddrUnsetDescriptor(t *testing.T) {
	m, err := Parse(common.ConditionSrcAddr, "0.0.0.0/0")
	require.NoError(t, err)
	assert.False(t, m.Match(&common.Descriptor{}))
	assert.True(t, m.Match(&common.Descriptor{SrcAddr: netip.MustParseAddr("1.2.3.4")}))
}

func TestAddrInvalid(t *testing.T) {
	for _, v := range []string{"", "10.0.0", "10.0.0.0/33", "host.example", "10.0.0.9-10.0.0.1", "10.0.0.1-::1"} {
		t.Run(v, func(t *testing.T) {
			_, err := Parse(common.ConditionDstAddr, v)
			assert.Error(t, err)
		})
	}
}

func TestLocal(t *testing.T) {
	m, err := Parse(common.ConditionDstLocal, "TRUE")
	require.NoError(t, err)
	assert.True(t, m.Match(&common.Descriptor{DstLocal: true}))
	assert.False(t, m.Match(&common.Descriptor{DstLocal: false}))

	m, err = Parse(common.ConditionDstLocal, "false")
	require.NoError(t, err)
	assert.True(t, m.Match(&common.Descriptor{}))

	_, err = Parse(common.ConditionDstLocal, "yes")
	assert.Error(t, err)
}

func TestIntf(t *testing.T) {
	m, err := Parse(common.ConditionSrcIntf, "1,3")
	require.NoError(t, err)
	assert.True(t, m.Match(&common.Descriptor{SrcIntf: 3}))
	assert.False(t, m.Match(&common.Descriptor{SrcIntf: 2, DstIntf: 1}))
	assert.Equal(t, "1,3", m.String())

	m, err = Parse(common.ConditionDstIntf, "2")
	require.NoError(t, err)
	assert.True(t, m.Match(&common.Descriptor{DstIntf: 2}))

	_, err = Parse(common.ConditionSrcIntf, "wan")
	assert.Error(t, err)
}

func TestProtocol(t *testing.T) {
	m, err := Parse(common.ConditionProtocol, "tcp,UDP")
	require.NoError(t, err)
	assert.True(t, m.Match(&common.Descriptor{Protocol: "TCP"}))
	assert.True(t, m.Match(&common.Descriptor{Protocol: "udp"}))
	assert.False(t, m.Match(&common.Descriptor{Protocol: "ICMP"}))
	assert.Equal(t, "TCP,UDP", m.String())

	_, err = Parse(common.ConditionProtocol, "TCP,QUIC")
	assert.Error(t, err)
}

func TestUnknownType(t *testing.T) {
	_, err := Parse(common.ConditionType("DST_MAC"), "aa:bb")
	assert.Error(t, err)
}

func TestCompilerCache(t *testing.T) {
	c, err := NewCompiler(2)
	require.NoError(t, err)

	m1, err := c.Compile(common.ConditionDstPort, "80")
	require.NoError(t, err)
	m2, err := c.Compile(common.ConditionDstPort, "80")
	require.NoError(t, err)
	assert.Same(t, m1, m2)

	_, err = c.Compile(common.ConditionDstPort, "bogus")
	assert.Error(t, err)
	_, err = c.Compile(common.ConditionDstPort, "bogus")
	assert.Error(t, err)
	assert.Equal(t, 2, c.Len())

	_, err = c.Compile(common.ConditionSrcPort, "80")
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())
}

func TestNilCompiler(t *testing.T) {
	var c *Compiler
	m, err := c.Compile(common.ConditionProtocol, "TCP")
	require.NoError(t, err)
	assert.Equal(t, common.ConditionProtocol, m.Type())
	assert.Equal(t, 0, c.Len())
}
