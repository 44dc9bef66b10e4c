// Issues server certificates signed by a local CA. Each call generates fresh
// key material and a fresh serial, on purpose: re-issuing for the same
// identity replaces the previous cert on disk.
package certissuer

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/function61/gokit/logex"
	"github.com/function61/localca/pkg/certauthority"
	"github.com/go-acme/lego/v3/certcrypto"
)

const (
	leafValidityDays = 825

	keyFilePerm  = 0400
	certFilePerm = 0444
)

// ErrVerification: a freshly signed certificate failed to chain to the CA
// that supposedly signed it. The cert file is removed before this is given.
var ErrVerification = errors.New("issued certificate does not chain to the CA")

var ErrEmptyIdentity = errors.New("identity cannot be empty")

// IssuanceError carries the pipeline step (and path, when one is involved)
// that aborted an issuance.
type IssuanceError struct {
	Step string
	Path string
	Err  error
}

func (e *IssuanceError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("issuance failed at %s (%s): %v", e.Step, e.Path, e.Err)
	}

	return fmt.Sprintf("issuance failed at %s: %v", e.Step, e.Err)
}

func (e *IssuanceError) Unwrap() error { return e.Err }

type IssuedCertificate struct {
	Identity    string
	Certificate *x509.Certificate
	Key         *rsa.PrivateKey
	CertPath    string
	KeyPath     string
	CsrPath     string
	SanConfPath string
}

func subjectFor(identity string) pkix.Name {
	return pkix.Name{
		Country:            []string{"US"},
		Organization:       []string{"Local Development"},
		OrganizationalUnit: []string{"Servers"},
		CommonName:         identity,
	}
}

// Issue runs the full pipeline: fresh leaf key -> CSR -> sign with SAN
// extensions -> chain-verify -> persist. Any failing step aborts the rest,
// and a cert that does not verify is never left at the expected path.
func Issue(
	ca *certauthority.Authority,
	identity string,
	outDir string,
	logger *log.Logger,
) (*IssuedCertificate, error) {
	logl := logex.Levels(logger)

	if identity == "" {
		return nil, &IssuanceError{Step: "validate", Err: ErrEmptyIdentity}
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, &IssuanceError{"mkdir", outDir, err}
	}

	keyPath := filepath.Join(outDir, identity+"-key.pem")
	csrPath := filepath.Join(outDir, identity+"-csr.pem")
	certPath := filepath.Join(outDir, identity+"-cert.pem")
	sanConfPath := filepath.Join(outDir, identity+"-san.cnf")

	keyAsAny, err := certcrypto.GeneratePrivateKey(certcrypto.RSA2048)
	if err != nil {
		return nil, &IssuanceError{Step: "key-generate", Err: err}
	}
	key := keyAsAny.(*rsa.PrivateKey)

	if err := writeFileFresh(keyPath, certcrypto.PEMEncode(key), keyFilePerm); err != nil {
		return nil, &IssuanceError{"key-persist", keyPath, err}
	}

	csr, err := buildRequest(identity, key)
	if err != nil {
		return nil, &IssuanceError{Step: "request-build", Err: err}
	}

	csrPem := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: csr.Raw})

	if err := writeFileFresh(csrPath, csrPem, certFilePerm); err != nil {
		return nil, &IssuanceError{"request-persist", csrPath, err}
	}

	sans := SubjectAltNamesFor(identity)

	if err := writeFileFresh(sanConfPath, sans.MarshalConf(), certFilePerm); err != nil {
		return nil, &IssuanceError{"san-record-persist", sanConfPath, err}
	}

	now := time.Now()

	certDer, err := ca.Sign(&x509.Certificate{
		Subject:     csr.Subject,
		NotBefore:   now.Add(-5 * time.Minute), // clock skew
		NotAfter:    now.AddDate(0, 0, leafValidityDays),
		KeyUsage:    x509.KeyUsageKeyEncipherment | x509.KeyUsageDataEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:    sans.DNSNames,
		IPAddresses: sans.IPAddresses,
	}, csr.PublicKey)
	if err != nil {
		return nil, &IssuanceError{Step: "sign", Err: err}
	}

	certPem := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDer})

	if err := writeFileFresh(certPath, certPem, certFilePerm); err != nil {
		return nil, &IssuanceError{"cert-persist", certPath, err}
	}

	cert, err := x509.ParseCertificate(certDer)
	if err != nil {
		os.Remove(certPath)
		return nil, &IssuanceError{"cert-parse", certPath, err}
	}

	if err := VerifyChainsTo(cert, ca.Cert); err != nil {
		os.Remove(certPath)
		return nil, &IssuanceError{"verify", certPath, err}
	}

	logl.Info.Printf("issued %s serial=%s expires=%s",
		identity,
		cert.SerialNumber.Text(16),
		cert.NotAfter.Format("2006-01-02"))

	return &IssuedCertificate{
		Identity:    identity,
		Certificate: cert,
		Key:         key,
		CertPath:    certPath,
		KeyPath:     keyPath,
		CsrPath:     csrPath,
		SanConfPath: sanConfPath,
	}, nil
}

// VerifyChainsTo checks that cert's signature chains to caCert and that cert
// is usable for server authentication.
func VerifyChainsTo(cert *x509.Certificate, caCert *x509.Certificate) error {
	roots := x509.NewCertPool()
	roots.AddCert(caCert)

	if _, err := cert.Verify(x509.VerifyOptions{
		Roots:     roots,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}); err != nil {
		return fmt.Errorf("%w: %v", ErrVerification, err)
	}

	return nil
}

func buildRequest(identity string, key *rsa.PrivateKey) (*x509.CertificateRequest, error) {
	csrDer, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject: subjectFor(identity),
	}, key)
	if err != nil {
		return nil, err
	}

	// re-parse so the request carries Raw bytes + resolved public key
	return x509.ParseCertificateRequest(csrDer)
}

// leaf artifacts get replaced on every run; the previous file (possibly mode
// 0400) has to go away before the exclusive create
func writeFileFresh(path string, data []byte, perm os.FileMode) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	defer file.Close()

	if _, err := file.Write(data); err != nil {
		os.Remove(path)
		return err
	}

	return nil
}
