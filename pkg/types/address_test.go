package types

import (
	"testing"
)

func TestHostPort(t *testing.T) {
	t.Run("ParseHostPort", func(t *testing.T) {
		tests := []struct {
			name    string
			input   string
			want    HostPort
			wantErr bool
		}{
			{"ipv4", "192.168.1.5:29015", HostPort{"192.168.1.5", 29015}, false},
			{"hostname", "db-1.internal:29015", HostPort{"db-1.internal", 29015}, false},
			{"ipv6", "[::1]:29015", HostPort{"::1", 29015}, false},
			{"no port", "192.168.1.5", HostPort{}, true},
			{"bad port", "host:notaport", HostPort{}, true},
			{"port overflow", "host:99999", HostPort{}, true},
			{"empty host", ":29015", HostPort{}, true},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := ParseHostPort(tt.input)
				if (err != nil) != tt.wantErr {
					t.Fatalf("ParseHostPort(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				}
				if got != tt.want {
					t.Errorf("ParseHostPort(%q) = %v, want %v", tt.input, got, tt.want)
				}
			})
		}
	})

	t.Run("StringRoundTrip", func(t *testing.T) {
		for _, hp := range []HostPort{
			{"10.0.0.1", 29015},
			{"::1", 29015},
			{"db.internal", 80},
		} {
			parsed, err := ParseHostPort(hp.String())
			if err != nil {
				t.Fatalf("ParseHostPort(%q) error = %v", hp.String(), err)
			}
			if parsed != hp {
				t.Errorf("round trip: got %v, want %v", parsed, hp)
			}
		}
	})
}

func TestPeerAddress(t *testing.T) {
	t.Run("NormalizeDedup", func(t *testing.T) {
		pa := PeerAddressFrom(
			HostPort{"10.0.0.2", 29015},
			HostPort{"10.0.0.1", 29015},
			HostPort{"10.0.0.2", 29015},
		)
		if len(pa.Candidates) != 2 {
			t.Fatalf("去重后应剩 2 个候选, got %d", len(pa.Candidates))
		}
		if pa.Candidates[0].Host != "10.0.0.1" {
			t.Errorf("候选应按主机排序, got %v", pa.Candidates)
		}
	})

	t.Run("AdvertisedPrefersCanonical", func(t *testing.T) {
		pa := NewPeerAddress(29015, "10.0.0.1", "10.0.0.2")
		pa.Canonical = HostPort{"db.example.com", 29015}

		adv := pa.Advertised()
		if len(adv) != 1 || adv[0].Host != "db.example.com" {
			t.Errorf("设置规范地址后应只通告规范地址, got %v", adv)
		}
	})

	t.Run("Contains", func(t *testing.T) {
		pa := NewPeerAddress(29015, "10.0.0.1")
		if !pa.Contains(HostPort{"10.0.0.1", 29015}) {
			t.Error("Contains 应命中候选地址")
		}
		if pa.Contains(HostPort{"10.0.0.9", 29015}) {
			t.Error("Contains 不应命中未知地址")
		}
	})

	t.Run("Equal", func(t *testing.T) {
		a := NewPeerAddress(29015, "10.0.0.1", "10.0.0.2")
		b := NewPeerAddress(29015, "10.0.0.2", "10.0.0.1")
		c := NewPeerAddress(29015, "10.0.0.1")

		if !a.Equal(b) {
			t.Error("顺序不同的相同候选集应相等")
		}
		if a.Equal(c) {
			t.Error("不同候选集不应相等")
		}
	})
}
