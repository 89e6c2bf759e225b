// Package addressmap loads the provider id to network address map that
// names the remote switches, from the dhcp-host entries of a dnsmasq
// configuration file. The DHCP server that hands the switches their
// addresses is the single source of truth for where they live.
package addressmap
