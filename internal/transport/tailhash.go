package transport

import (
	"encoding/hex"
	"io"
	"os"

	"golang.org/x/crypto/blake2b"
)

// TailHashWindow is the fixed N named in spec §3: "hash of the last N
// bytes of the on-disk part".
const TailHashWindow = 65536

// TailHash hashes the last TailHashWindow bytes (or the whole file, if
// smaller) of the part file at path, for resume-checkpoint validation.
func TailHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}

	size := info.Size()
	start := size - TailHashWindow
	if start < 0 {
		start = 0
	}
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return "", err
	}

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyResumable checks whether a part file at path with expected size w
// still matches its recorded tail-hash checkpoint, deciding whether a
// chunk may resume from w or must restart from zero (spec §4.11 step 2,
// §8 "Chunk resume after killed process").
func VerifyResumable(path string, w int64, expectedHash string) bool {
	if w <= 0 || expectedHash == "" {
		return false
	}
	info, err := os.Stat(path)
	if err != nil || info.Size() != w {
		return false
	}
	got, err := TailHash(path)
	if err != nil {
		return false
	}
	return got == expectedHash
}
