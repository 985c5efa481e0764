// Package digest computes content digests of local files.
package digest

import (
	"crypto/sha512"
	"encoding/hex"
	"io"
	"os"
	"strings"
)

// chunkSize bounds the read buffer so memory use does not depend on file size.
const chunkSize = 64 * 1024

// Digest is the lowercase hex SHA-512 of a byte sequence.
type Digest string

// Len is the length of a hex encoded SHA-512 digest.
const Len = sha512.Size * 2

// File streams the file at path through SHA-512.
func File(path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	return Reader(f)
}

// Reader hashes everything read from r.
func Reader(r io.Reader) (Digest, error) {
	h := sha512.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", err
	}
	return Digest(hex.EncodeToString(h.Sum(nil))), nil
}

// Bytes hashes b.
func Bytes(b []byte) Digest {
	sum := sha512.Sum512(b)
	return Digest(hex.EncodeToString(sum[:]))
}

// Normalize converts a digest read from an untrusted source, such as object
// metadata, into canonical form. It does not validate it.
func Normalize(s string) Digest {
	return Digest(strings.ToLower(strings.TrimSpace(s)))
}

// Equal reports whether d and other name the same content.
func (d Digest) Equal(other Digest) bool {
	return d != "" && d == other
}

// Valid reports whether d looks like a hex SHA-512 digest.
func (d Digest) Valid() bool {
	if len(d) != Len {
		return false
	}
	_, err := hex.DecodeString(string(d))
	return err == nil
}

// Short returns a prefix of the digest suitable for log lines.
func (d Digest) Short() string {
	if len(d) <= 12 {
		return string(d)
	}
	return string(d[:12])
}

func (d Digest) String() string {
	return string(d)
}
