// ABOUTME: Tests for mDNS discovery
// ABOUTME: Covers manager defaults and conversion of service entries
package discovery

import (
	"net"
	"testing"
	"time"

	"github.com/hashicorp/mdns"
)

func TestNewManagerDefaults(t *testing.T) {
	mgr := NewManager(Config{ServiceName: "Living Room", Port: 8927})
	defer mgr.Stop()

	if mgr.config.Path != "/resonate" {
		t.Errorf("expected default path /resonate, got %s", mgr.config.Path)
	}
	if mgr.config.BrowseInterval != 3*time.Second {
		t.Errorf("expected 3s browse interval, got %v", mgr.config.BrowseInterval)
	}
	if got := mgr.txtRecords(); len(got) != 1 || got[0] != "path=/resonate" {
		t.Errorf("expected path TXT record, got %v", got)
	}
}

func TestServerFromEntry(t *testing.T) {
	tests := []struct {
		name     string
		entry    *mdns.ServiceEntry
		wantNil  bool
		wantName string
		wantPath string
		wantAddr string
	}{
		{
			name:    "nil entry",
			entry:   nil,
			wantNil: true,
		},
		{
			name:    "no ipv4",
			entry:   &mdns.ServiceEntry{Name: "x", Port: 1},
			wantNil: true,
		},
		{
			name: "custom path",
			entry: &mdns.ServiceEntry{
				Name:       "Kitchen." + ServiceType + ".local.",
				AddrV4:     net.ParseIP("192.168.1.20"),
				Port:       9000,
				InfoFields: []string{"path=/custom"},
			},
			wantName: "Kitchen",
			wantPath: "/custom",
			wantAddr: "192.168.1.20:9000",
		},
		{
			name: "default path",
			entry: &mdns.ServiceEntry{
				Name:   "Office." + ServiceType + ".local.",
				AddrV4: net.ParseIP("10.0.0.5"),
				Port:   8927,
			},
			wantName: "Office",
			wantPath: "/resonate",
			wantAddr: "10.0.0.5:8927",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := serverFromEntry(tt.entry)
			if tt.wantNil {
				if info != nil {
					t.Fatalf("expected nil, got %+v", info)
				}
				return
			}
			if info == nil {
				t.Fatal("expected server info, got nil")
			}
			if info.Name != tt.wantName {
				t.Errorf("expected name %q, got %q", tt.wantName, info.Name)
			}
			if info.Path != tt.wantPath {
				t.Errorf("expected path %q, got %q", tt.wantPath, info.Path)
			}
			if info.Addr() != tt.wantAddr {
				t.Errorf("expected addr %q, got %q", tt.wantAddr, info.Addr())
			}
		})
	}
}

func TestStopIsIdempotent(t *testing.T) {
	mgr := NewManager(Config{ServiceName: "x", Port: 1})
	mgr.Stop()
	mgr.Stop()

	select {
	case <-mgr.ctx.Done():
	default:
		t.Error("expected context to be cancelled")
	}
}
