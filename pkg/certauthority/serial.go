package certauthority

import (
	"crypto/rand"
	"fmt"
	"io/ioutil"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// The serial counter lives in ca-cert.srl as hex, openssl-style: the file
// holds the next serial to hand out. A lock file guards the
// read-increment-write cycle so two issuance processes against the same CA
// cannot hand out the same serial.

const (
	lockAttempts = 50
	lockWait     = 100 * time.Millisecond
)

func (a *Authority) nextSerial() (*big.Int, error) {
	serialPath := filepath.Join(a.Dir, SerialFilename)

	unlock, err := acquireLock(serialPath + ".lock")
	if err != nil {
		return nil, err
	}
	defer unlock()

	serial, err := readSerialFile(serialPath)
	if os.IsNotExist(err) {
		serial, err = randomSerial()
	}
	if err != nil {
		return nil, err
	}

	if err := writeSerialFile(serialPath, new(big.Int).Add(serial, big.NewInt(1))); err != nil {
		return nil, err
	}

	return serial, nil
}

func readSerialFile(path string) (*big.Int, error) {
	content, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}

	serial, ok := new(big.Int).SetString(strings.TrimSpace(string(content)), 16)
	if !ok {
		return nil, fmt.Errorf("corrupt serial file: %s", path)
	}

	return serial, nil
}

func writeSerialFile(path string, serial *big.Int) error {
	return ioutil.WriteFile(path, []byte(strings.ToUpper(serial.Text(16))+"\n"), 0644)
}

// counters (and the CA cert itself) start from a random serial so that CAs
// bootstrapped in different dirs don't hand out colliding serials
func randomSerial() (*big.Int, error) {
	return rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
}

func acquireLock(path string) (func(), error) {
	for attempt := 0; attempt < lockAttempts; attempt++ {
		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
		if err == nil {
			file.Close()

			return func() { os.Remove(path) }, nil
		}

		if !os.IsExist(err) {
			return nil, err
		}

		time.Sleep(lockWait)
	}

	return nil, fmt.Errorf("timed out waiting for serial lock: %s", path)
}
