// Maintains a certificate authority on flat files: a 4096-bit RSA key, a
// self-signed certificate and a running serial counter for the certs it signs.
// Bootstrap is check-then-create per artifact, so an interrupted run recovers
// by generating only what is still missing.
package certauthority

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/function61/gokit/cryptoutil"
	"github.com/function61/gokit/logex"
	"github.com/go-acme/lego/v3/certcrypto"
)

const (
	KeyFilename    = "ca-key.pem"
	CertFilename   = "ca-cert.pem"
	SerialFilename = "ca-cert.srl"

	caValidityDays = 3650

	keyFilePerm  = 0400
	certFilePerm = 0444
)

var caSubject = pkix.Name{
	Country:            []string{"US"},
	Organization:       []string{"Local Development"},
	OrganizationalUnit: []string{"Certificate Services"},
	CommonName:         "Local Certificate Authority",
}

// Authority pairs the CA's key with its self-signed certificate. Dir is where
// both (and the serial counter) are persisted.
type Authority struct {
	Dir  string
	Cert *x509.Certificate
	Key  *rsa.PrivateKey

	certPem []byte
	logl    *logex.Leveled
}

// BootstrapError means the CA directory could not be brought to a usable
// state. The bootstrap step and affected path are included for diagnosis.
type BootstrapError struct {
	Step string
	Path string
	Err  error
}

func (e *BootstrapError) Error() string {
	return fmt.Sprintf("CA bootstrap failed at %s (%s): %v", e.Step, e.Path, e.Err)
}

func (e *BootstrapError) Unwrap() error { return e.Err }

// EnsureCA returns the authority persisted in dir, creating any missing
// pieces. Calling it against a fully bootstrapped dir changes nothing on disk.
func EnsureCA(dir string, logger *log.Logger) (*Authority, error) {
	logl := logex.Levels(logger)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &BootstrapError{"mkdir", dir, err}
	}

	keyPath := filepath.Join(dir, KeyFilename)
	certPath := filepath.Join(dir, CertFilename)

	if !fileExists(keyPath) {
		logl.Info.Printf("generating CA key: %s", keyPath)

		if err := generateKey(keyPath); err != nil {
			return nil, &BootstrapError{"key-generate", keyPath, err}
		}
	}

	// disk is the source of truth, even for a key generated just above
	key, err := loadKey(keyPath)
	if err != nil {
		return nil, &BootstrapError{"key-load", keyPath, err}
	}

	if !fileExists(certPath) {
		logl.Info.Printf("generating CA certificate: %s", certPath)

		if err := generateSelfSignedCert(certPath, key); err != nil {
			return nil, &BootstrapError{"cert-generate", certPath, err}
		}
	}

	certPem, err := ioutil.ReadFile(certPath)
	if err != nil {
		return nil, &BootstrapError{"cert-load", certPath, err}
	}

	cert, err := cryptoutil.ParsePemX509Certificate(certPem)
	if err != nil {
		return nil, &BootstrapError{"cert-parse", certPath, err}
	}

	if err := certMatchesKey(cert, key); err != nil {
		return nil, &BootstrapError{"cert-key-match", certPath, err}
	}

	return &Authority{
		Dir:     dir,
		Cert:    cert,
		Key:     key,
		certPem: certPem,
		logl:    logl,
	}, nil
}

// Sign issues a certificate from the template, assigning it the next serial
// number from the persisted counter. Returns the certificate in DER form.
func (a *Authority) Sign(template *x509.Certificate, pub crypto.PublicKey) ([]byte, error) {
	serial, err := a.nextSerial()
	if err != nil {
		return nil, err
	}

	template.SerialNumber = serial

	a.logl.Debug.Printf("signing %s serial=%s", template.Subject.CommonName, serial.Text(16))

	return x509.CreateCertificate(rand.Reader, template, a.Cert, pub, a.Key)
}

func (a *Authority) CertPem() []byte {
	return a.certPem
}

func (a *Authority) CertPath() string {
	return filepath.Join(a.Dir, CertFilename)
}

func generateKey(path string) error {
	privKey, err := certcrypto.GeneratePrivateKey(certcrypto.RSA4096)
	if err != nil {
		return err
	}

	return writeFileExclusive(path, certcrypto.PEMEncode(privKey), keyFilePerm)
}

func loadKey(path string) (*rsa.PrivateKey, error) {
	keyPem, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return cryptoutil.ParsePemPkcs1EncodedRsaPrivateKey(keyPem)
}

func generateSelfSignedCert(path string, key *rsa.PrivateKey) error {
	serial, err := randomSerial()
	if err != nil {
		return err
	}

	now := time.Now()

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      caSubject,
		NotBefore:    now.Add(-5 * time.Minute), // clock skew
		NotAfter:     now.AddDate(0, 0, caValidityDays),
		KeyUsage:     x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,

		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	certDer, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	if err != nil {
		return err
	}

	certPem := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDer})

	return writeFileExclusive(path, certPem, certFilePerm)
}

// guards against a dir whose cert was made for some other key (e.g. a key
// file restored from the wrong backup)
func certMatchesKey(cert *x509.Certificate, key *rsa.PrivateKey) error {
	certFingerprint, err := cryptoutil.Sha256FingerprintForPublicKey(cert.PublicKey)
	if err != nil {
		return err
	}

	keyFingerprint, err := cryptoutil.Sha256FingerprintForPublicKey(key.Public())
	if err != nil {
		return err
	}

	if certFingerprint != keyFingerprint {
		return errors.New("CA certificate public key does not match CA key file")
	}

	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func writeFileExclusive(path string, data []byte, perm os.FileMode) error {
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
