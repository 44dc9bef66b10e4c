// Read-only view over the certificates previously issued into a directory.
// Certs are parsed at scan time; unparseable files are skipped with a log
// line instead of failing the whole listing.
package certinventory

import (
	"io/ioutil"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/function61/gokit/cryptoutil"
	"github.com/function61/gokit/logex"
)

const certFileSuffix = "-cert.pem"

type IssuedCert struct {
	Identity     string    `json:"identity"`
	SerialNumber string    `json:"serial_number"` // uppercase hex
	NotBefore    time.Time `json:"not_before"`
	NotAfter     time.Time `json:"not_after"`
	DNSNames     []string  `json:"dns_names"`
	IPAddresses  []string  `json:"ip_addresses"`
	Expired      bool      `json:"expired"`
	CertPath     string    `json:"cert_path"`
}

type Inventory struct {
	certs      []*IssuedCert
	byHostname map[string]*IssuedCert
}

func Scan(dir string, logger *log.Logger) (*Inventory, error) {
	logl := logex.Levels(logger)

	certFiles, err := filepath.Glob(filepath.Join(dir, "*"+certFileSuffix))
	if err != nil {
		return nil, err
	}

	inv := &Inventory{
		certs:      []*IssuedCert{},
		byHostname: map[string]*IssuedCert{},
	}

	for _, certFile := range certFiles {
		certPem, err := ioutil.ReadFile(certFile)
		if err != nil {
			return nil, err
		}

		cert, err := cryptoutil.ParsePemX509Certificate(certPem)
		if err != nil {
			logl.Error.Printf("skipping %s: %v", certFile, err)
			continue
		}

		ipAddresses := []string{}
		for _, ip := range cert.IPAddresses {
			ipAddresses = append(ipAddresses, ip.String())
		}

		entry := &IssuedCert{
			Identity:     strings.TrimSuffix(filepath.Base(certFile), certFileSuffix),
			SerialNumber: strings.ToUpper(cert.SerialNumber.Text(16)),
			NotBefore:    cert.NotBefore,
			NotAfter:     cert.NotAfter,
			DNSNames:     cert.DNSNames,
			IPAddresses:  ipAddresses,
			Expired:      time.Now().After(cert.NotAfter),
			CertPath:     certFile,
		}

		for _, name := range cert.DNSNames {
			inv.byHostname[name] = entry
		}

		inv.certs = append(inv.certs, entry)
	}

	return inv, nil
}

func (i *Inventory) All() []IssuedCert {
	copied := []IssuedCert{}
	for _, cert := range i.certs {
		copied = append(copied, *cert)
	}

	return copied
}

func (i *Inventory) ByHostname(hostname string) *IssuedCert {
	return i.byHostname[hostname]
}

// ByHostnameSupportingWildcard looks up foo.example.com for when you want to
// support possibly finding the *.example.com cert. Exact match wins.
func ByHostnameSupportingWildcard(hostname string, inv *Inventory) *IssuedCert {
	cert := inv.ByHostname(hostname)
	if cert != nil {
		return cert
	}

	return inv.ByHostname(wildcardVersionOfHostname(hostname))
}

// "foobar.example.com" => "*.example.com"
func wildcardVersionOfHostname(hostname string) string {
	if hostname == "" {
		return ""
	}

	return "*." + strings.Join(strings.Split(hostname, ".")[1:], ".")
}
