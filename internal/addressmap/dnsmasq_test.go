package addressmap

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleConf = `# dnsmasq for the switch VLAN
interface=eth1
dhcp-range=10.0.0.10,10.0.0.200,12h
dhcp-host=b8:27:eb:12:34:56,porch,10.0.0.20
dhcp-host=b8:27:eb:12:34:57,hall,10.0.0.21,infinite
  dhcp-host=10.0.0.22,set:lights,b8:27:eb:12:34:58,garage,24h
dhcp-host=b8:27:eb:12:34:59,10.0.0.23
dhcp-host=b8:27:eb:12:34:5a,attic
dhcp-host=b8:27:eb:12:34:5b,shed,ignore
#dhcp-host=b8:27:eb:12:34:5c,disabled,10.0.0.30
dhcp-host=b8:27:eb:12:34:5d,cellar,[fd00::20] # v6
`

func TestParseDnsmasq(t *testing.T) {
	got, err := ParseDnsmasq(strings.NewReader(sampleConf))
	if err != nil {
		t.Fatalf("ParseDnsmasq() error = %v", err)
	}

	want := map[string]string{
		"porch":  "10.0.0.20",
		"hall":   "10.0.0.21",
		"garage": "10.0.0.22",
		"cellar": "fd00::20",
	}
	if len(got) != len(want) {
		t.Fatalf("ParseDnsmasq() = %v, want %v", got, want)
	}
	for name, ip := range want {
		if got[name] != ip {
			t.Errorf("%s = %q, want %q", name, got[name], ip)
		}
	}
}

func TestParseDnsmasq_DuplicateName(t *testing.T) {
	conf := "dhcp-host=aa:bb:cc:dd:ee:01,porch,10.0.0.20\ndhcp-host=aa:bb:cc:dd:ee:02,porch,10.0.0.21\n"
	_, err := ParseDnsmasq(strings.NewReader(conf))
	if !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("ParseDnsmasq() error = %v, want ErrDuplicateName", err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dnsmasq.conf")
	if err := os.WriteFile(path, []byte(sampleConf), 0600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if m["porch"] != "10.0.0.20" {
		t.Errorf("porch = %q", m["porch"])
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.conf")); err == nil {
		t.Error("Load() of missing file should fail")
	}
}
