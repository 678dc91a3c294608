// Package verify implements the Verifier (spec §4.13): an optional
// post-assembly size/hash check. Grounded on the teacher's
// FileVerifier.Verify (internal/integrity/verifier.go, sha256/md5) and
// enriched with burkut's multi-algorithm checksum module
// (internal/engine/checksum.go) to add a BLAKE3 option, resolving the
// spec's open question on canonical hash algorithm: SHA-256 by default,
// BLAKE3 opt-in when the catalog declares it.
package verify

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/zeebo/blake3"

	"romvault-engine/internal/apperr"
)

// Result carries the outcome of a verification pass.
type Result struct {
	SizeOK bool
	HashOK bool // true if no hash was declared (check skipped)
	Hash   string
}

// Verify checks declaredSize (0 = not provided) and declaredHash
// ("algo:hexvalue", empty = not provided) against the assembled file.
func Verify(path string, declaredSize int64, declaredHash string) (Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.Disk, "", "stat assembled file", err)
	}

	result := Result{SizeOK: true, HashOK: true}
	if declaredSize > 0 {
		result.SizeOK = info.Size() == declaredSize
		if !result.SizeOK {
			return result, apperr.New(apperr.Integrity, "",
				fmt.Sprintf("size mismatch: declared %d, actual %d", declaredSize, info.Size()))
		}
	}

	if declaredHash == "" {
		return result, nil
	}

	algo, want, err := splitHash(declaredHash)
	if err != nil {
		return result, apperr.Wrap(apperr.Validation, "", "parse declared hash", err)
	}

	got, err := hashFile(path, algo)
	if err != nil {
		return result, apperr.Wrap(apperr.Disk, "", "hash assembled file", err)
	}
	result.Hash = got
	result.HashOK = got == want
	if !result.HashOK {
		return result, apperr.New(apperr.Integrity, "",
			fmt.Sprintf("%s mismatch: declared %s, actual %s", algo, want, got))
	}
	return result, nil
}

func splitHash(declared string) (algo, value string, err error) {
	for i := 0; i < len(declared); i++ {
		if declared[i] == ':' {
			return declared[:i], declared[i+1:], nil
		}
	}
	// No algorithm prefix: assume sha256, the canonical default.
	return "sha256", declared, nil
}

func newHasher(algo string) (hash.Hash, error) {
	switch algo {
	case "sha256", "":
		return sha256.New(), nil
	case "blake3":
		return blake3.New(), nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", algo)
	}
}

func hashFile(path, algo string) (string, error) {
	h, err := newHasher(algo)
	if err != nil {
		return "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
