package certissuer

import (
	"bytes"
	"fmt"
	"net"
)

// SubjectAltNameSet is the ordered list of DNS names and IP addresses to
// embed in an issued certificate.
type SubjectAltNameSet struct {
	DNSNames    []string
	IPAddresses []net.IP
}

// SubjectAltNamesFor builds the fixed SAN policy for a server identity: the
// identity itself, its wildcard form, "localhost" and the loopback IP.
// Duplicates are dropped. An identity that is itself an IP literal gets an IP
// entry and no wildcard form (a wildcard of an IP is meaningless).
func SubjectAltNamesFor(identity string) SubjectAltNameSet {
	sans := SubjectAltNameSet{}

	if ip := net.ParseIP(identity); ip != nil {
		sans.addIP(ip)
	} else {
		sans.addDNS(identity)
		sans.addDNS("*." + identity)
	}

	sans.addDNS("localhost")
	sans.addIP(net.ParseIP("127.0.0.1"))

	return sans
}

// MarshalConf renders the set plus the fixed extensions as an openssl-shaped
// extension config. It is written next to the issued certificate purely as an
// audit record of what was embedded; nothing reads it back.
func (s SubjectAltNameSet) MarshalConf() []byte {
	conf := &bytes.Buffer{}

	fmt.Fprintf(conf, "[v3_ext]\n")
	fmt.Fprintf(conf, "keyUsage = keyEncipherment,dataEncipherment\n")
	fmt.Fprintf(conf, "extendedKeyUsage = serverAuth\n")
	fmt.Fprintf(conf, "subjectAltName = @alt_names\n")
	fmt.Fprintf(conf, "\n[alt_names]\n")

	for idx, name := range s.DNSNames {
		fmt.Fprintf(conf, "DNS.%d = %s\n", idx+1, name)
	}

	for idx, ip := range s.IPAddresses {
		fmt.Fprintf(conf, "IP.%d = %s\n", idx+1, ip.String())
	}

	return conf.Bytes()
}

func (s *SubjectAltNameSet) addDNS(name string) {
	for _, existing := range s.DNSNames {
		if existing == name {
			return
		}
	}

	s.DNSNames = append(s.DNSNames, name)
}

func (s *SubjectAltNameSet) addIP(ip net.IP) {
	for _, existing := range s.IPAddresses {
		if existing.Equal(ip) {
			return
		}
	}

	s.IPAddresses = append(s.IPAddresses, ip)
}
