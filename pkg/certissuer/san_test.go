package certissuer

import (
	"strings"
	"testing"

	"github.com/function61/gokit/assert"
)

func TestSubjectAltNamesFor(t *testing.T) {
	sans := SubjectAltNamesFor("example.com")

	assert.EqualString(t, strings.Join(sans.DNSNames, " "), "example.com *.example.com localhost")
	assert.Assert(t, len(sans.IPAddresses) == 1)
	assert.EqualString(t, sans.IPAddresses[0].String(), "127.0.0.1")
}

func TestSubjectAltNamesForLocalhost(t *testing.T) {
	// "localhost" must not appear twice
	sans := SubjectAltNamesFor("localhost")

	assert.EqualString(t, strings.Join(sans.DNSNames, " "), "localhost *.localhost")
	assert.Assert(t, len(sans.IPAddresses) == 1)
}

func TestSubjectAltNamesForIPIdentity(t *testing.T) {
	// no wildcard for an IP, and the IP goes in as an IP entry
	sans := SubjectAltNamesFor("10.0.0.5")

	assert.EqualString(t, strings.Join(sans.DNSNames, " "), "localhost")
	assert.Assert(t, len(sans.IPAddresses) == 2)
	assert.EqualString(t, sans.IPAddresses[0].String(), "10.0.0.5")
	assert.EqualString(t, sans.IPAddresses[1].String(), "127.0.0.1")
}

func TestSubjectAltNamesForLoopbackIdentity(t *testing.T) {
	// loopback identity collapses to a single IP entry
	sans := SubjectAltNamesFor("127.0.0.1")

	assert.EqualString(t, strings.Join(sans.DNSNames, " "), "localhost")
	assert.Assert(t, len(sans.IPAddresses) == 1)
	assert.EqualString(t, sans.IPAddresses[0].String(), "127.0.0.1")
}

func TestMarshalConf(t *testing.T) {
	conf := string(SubjectAltNamesFor("example.com").MarshalConf())

	assert.EqualString(t, conf, `[v3_ext]
keyUsage = keyEncipherment,dataEncipherment
extendedKeyUsage = serverAuth
subjectAltName = @alt_names

[alt_names]
DNS.1 = example.com
DNS.2 = *.example.com
DNS.3 = localhost
IP.1 = 127.0.0.1
`)
}
