package addressmap

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
)

// ErrDuplicateName is returned when two dhcp-host entries share a name.
var ErrDuplicateName = errors.New("addressmap: duplicate name")

const hostDirective = "dhcp-host="

// Load parses the dnsmasq configuration at path.
func Load(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening address map: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only

	m, err := ParseDnsmasq(f)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return m, nil
}

// ParseDnsmasq reads dnsmasq configuration and returns the name -> IP map
// described by its dhcp-host lines, e.g.
//
//	dhcp-host=b8:27:eb:12:34:56,porch,10.0.0.20
//
// Fields may appear in any order. Tags (set:, tag:), lease times and
// the "ignore" keyword are skipped. Entries lacking either a name or an
// address are not addressable by id and are left out.
func ParseDnsmasq(r io.Reader) (map[string]string, error) {
	out := make(map[string]string)
	lines := make(map[string]int)

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, hostDirective) {
			continue
		}

		name, ip := parseHost(strings.TrimPrefix(line, hostDirective))
		if name == "" || ip == "" {
			continue
		}
		if prev, dup := lines[name]; dup {
			return nil, fmt.Errorf("%w: %q on lines %d and %d", ErrDuplicateName, name, prev, lineNo)
		}
		lines[name] = lineNo
		out[name] = ip
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading address map: %w", err)
	}

	return out, nil
}

// parseHost classifies the comma-separated fields of one dhcp-host entry.
func parseHost(entry string) (name, ip string) {
	if i := strings.IndexByte(entry, '#'); i >= 0 {
		entry = entry[:i]
	}

	for _, field := range strings.Split(entry, ",") {
		field = strings.TrimSpace(field)
		switch {
		case field == "", field == "ignore", field == "infinite":
		case strings.HasPrefix(field, "set:"), strings.HasPrefix(field, "tag:"), strings.HasPrefix(field, "id:"):
		case isHardwareAddr(field):
		case strings.HasPrefix(field, "[") && strings.HasSuffix(field, "]"):
			if ip == "" && net.ParseIP(field[1:len(field)-1]) != nil {
				ip = field[1 : len(field)-1]
			}
		case net.ParseIP(field) != nil:
			if ip == "" {
				ip = field
			}
		case isLeaseTime(field):
		default:
			if name == "" {
				name = field
			}
		}
	}
	return name, ip
}

func isHardwareAddr(s string) bool {
	_, err := net.ParseMAC(s)
	return err == nil || strings.Contains(s, "*")
}

// isLeaseTime reports whether s looks like a dnsmasq lease time: digits
// with an optional m/h/d/w suffix.
func isLeaseTime(s string) bool {
	s = strings.TrimRight(s, "mhdw")
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
