package netutil

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRestricted(t *testing.T) {
	tests := []struct {
		name   string
		ifaces []Iface
		want   bool
	}{
		{
			name:   "plain ethernet",
			ifaces: []Iface{{Name: "eth0", Up: true, Addrs: []net.IP{net.ParseIP("192.168.1.20")}}},
			want:   false,
		},
		{
			name:   "wireguard",
			ifaces: []Iface{{Name: "wg0", Up: true}},
			want:   true,
		},
		{
			name:   "cgnat address",
			ifaces: []Iface{{Name: "eth0", Up: true, Addrs: []net.IP{net.ParseIP("100.72.3.4")}}},
			want:   true,
		},
		{
			name:   "down tunnel ignored",
			ifaces: []Iface{{Name: "tun0", Up: false}},
			want:   false,
		},
		{
			name:   "loopback ignored",
			ifaces: []Iface{{Name: "lo", Up: true, Loopback: true, Addrs: []net.IP{net.ParseIP("100.64.0.1")}}},
			want:   false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Restricted(tt.ifaces))
		})
	}
}
