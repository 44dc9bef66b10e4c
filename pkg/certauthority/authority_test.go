package certauthority

import (
	"errors"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/function61/gokit/assert"
)

func TestEnsureCAIdempotent(t *testing.T) {
	dir := tempDir(t)
	defer os.RemoveAll(dir)

	first, err := EnsureCA(dir, nil)
	assert.Ok(t, err)

	keyBytes := readFile(t, filepath.Join(dir, KeyFilename))
	certBytes := readFile(t, filepath.Join(dir, CertFilename))

	second, err := EnsureCA(dir, nil)
	assert.Ok(t, err)

	// byte-identical on disk, same cert in memory
	assert.EqualString(t, string(readFile(t, filepath.Join(dir, KeyFilename))), string(keyBytes))
	assert.EqualString(t, string(readFile(t, filepath.Join(dir, CertFilename))), string(certBytes))
	assert.Assert(t, first.Cert.SerialNumber.Cmp(second.Cert.SerialNumber) == 0)
}

func TestEnsureCAPartialRecovery(t *testing.T) {
	dir := tempDir(t)
	defer os.RemoveAll(dir)

	_, err := EnsureCA(dir, nil)
	assert.Ok(t, err)

	keyBytes := readFile(t, filepath.Join(dir, KeyFilename))

	// simulate a run that got interrupted between key and cert generation
	assert.Ok(t, os.Remove(filepath.Join(dir, CertFilename)))

	ca, err := EnsureCA(dir, nil)
	assert.Ok(t, err)

	// key untouched, cert regenerated for that same key
	assert.EqualString(t, string(readFile(t, filepath.Join(dir, KeyFilename))), string(keyBytes))
	assert.Ok(t, certMatchesKey(ca.Cert, ca.Key))
}

func TestEnsureCAValidityWindow(t *testing.T) {
	dir := tempDir(t)
	defer os.RemoveAll(dir)

	ca, err := EnsureCA(dir, nil)
	assert.Ok(t, err)

	expected := time.Now().AddDate(0, 0, caValidityDays)
	drift := ca.Cert.NotAfter.Sub(expected)

	assert.Assert(t, drift > -24*time.Hour && drift < 24*time.Hour)
	assert.Assert(t, ca.Cert.IsCA)
	assert.EqualString(t, ca.Cert.Subject.CommonName, "Local Certificate Authority")
}

func TestEnsureCAKeyFilePermissions(t *testing.T) {
	dir := tempDir(t)
	defer os.RemoveAll(dir)

	_, err := EnsureCA(dir, nil)
	assert.Ok(t, err)

	info, err := os.Stat(filepath.Join(dir, KeyFilename))
	assert.Ok(t, err)
	assert.Assert(t, info.Mode().Perm() == 0400)
}

func TestEnsureCACorruptKey(t *testing.T) {
	dir := tempDir(t)
	defer os.RemoveAll(dir)

	assert.Ok(t, ioutil.WriteFile(filepath.Join(dir, KeyFilename), []byte("not a pem key"), 0400))

	_, err := EnsureCA(dir, nil)
	assert.Assert(t, err != nil)

	bootstrapErr := &BootstrapError{}
	assert.Assert(t, errors.As(err, &bootstrapErr))
	assert.EqualString(t, bootstrapErr.Step, "key-load")
}

func TestEnsureCACertKeyMismatch(t *testing.T) {
	dirA := tempDir(t)
	defer os.RemoveAll(dirA)
	dirB := tempDir(t)
	defer os.RemoveAll(dirB)

	_, err := EnsureCA(dirA, nil)
	assert.Ok(t, err)

	other, err := EnsureCA(dirB, nil)
	assert.Ok(t, err)

	// transplant the other CA's cert next to our key
	assert.Ok(t, os.Remove(filepath.Join(dirA, CertFilename)))
	assert.Ok(t, ioutil.WriteFile(filepath.Join(dirA, CertFilename), other.CertPem(), 0444))

	_, err = EnsureCA(dirA, nil)
	assert.Assert(t, err != nil)

	bootstrapErr := &BootstrapError{}
	assert.Assert(t, errors.As(err, &bootstrapErr))
	assert.EqualString(t, bootstrapErr.Step, "cert-key-match")
}

func tempDir(t *testing.T) string {
	dir, err := ioutil.TempDir("", "localca")
	assert.Ok(t, err)
	return dir
}

func readFile(t *testing.T, path string) []byte {
	content, err := ioutil.ReadFile(path)
	assert.Ok(t, err)
	return content
}
