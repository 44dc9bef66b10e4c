package certauthority

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/function61/gokit/assert"
)

func TestNextSerial(t *testing.T) {
	dir := tempDir(t)
	defer os.RemoveAll(dir)

	// serial counter only needs the dir
	ca := &Authority{Dir: dir}

	first, err := ca.nextSerial()
	assert.Ok(t, err)

	second, err := ca.nextSerial()
	assert.Ok(t, err)

	assert.Assert(t, first.Cmp(second) != 0)
	assert.Assert(t, new(big.Int).Sub(second, first).Cmp(big.NewInt(1)) == 0)

	// counter survives on disk
	onDisk, err := readSerialFile(filepath.Join(dir, SerialFilename))
	assert.Ok(t, err)
	assert.Assert(t, new(big.Int).Sub(onDisk, second).Cmp(big.NewInt(1)) == 0)
}

func TestNextSerialCorruptCounter(t *testing.T) {
	dir := tempDir(t)
	defer os.RemoveAll(dir)

	assert.Ok(t, writeFileExclusive(filepath.Join(dir, SerialFilename), []byte("zzz not hex"), 0644))

	ca := &Authority{Dir: dir}

	_, err := ca.nextSerial()
	assert.Assert(t, err != nil)
}

func TestNextSerialWaitsForLock(t *testing.T) {
	dir := tempDir(t)
	defer os.RemoveAll(dir)

	lockPath := filepath.Join(dir, SerialFilename+".lock")
	assert.Ok(t, writeFileExclusive(lockPath, []byte{}, 0600))

	// concurrent holder releases the lock shortly
	go func() {
		time.Sleep(300 * time.Millisecond)
		os.Remove(lockPath)
	}()

	ca := &Authority{Dir: dir}

	_, err := ca.nextSerial()
	assert.Ok(t, err)

	// lock released after use
	assert.Assert(t, !fileExists(lockPath))
}
