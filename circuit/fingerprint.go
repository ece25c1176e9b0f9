package circuit

import (
	"encoding/binary"
	"encoding/hex"
	"strconv"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// DefaultFingerprintSize is the digest length in bytes. 256-bit BLAKE2b makes
// an unintended collision between distinct circuit structures negligible even
// for very large circuits; callers with tighter keys can shrink it through
// FingerprintSize.
const DefaultFingerprintSize = 32

// Fingerprint is a hex-encoded structural digest of a circuit. It covers the
// qubit count and the ordered (kind, targets, controls) sequence and nothing
// else; in particular gate parameters never contribute, so all parameter
// assignments of one circuit shape share a fingerprint.
type Fingerprint string

// FingerprintSize computes the fingerprint with a caller-chosen digest length
// between 1 and 64 bytes.
func FingerprintSize(c *Circuit, size int) (Fingerprint, error) {
	h, err := blake2b.New(size, nil)
	if err != nil {
		return "", err
	}

	var scratch [8]byte
	writeInt := func(v int) {
		binary.LittleEndian.PutUint64(scratch[:], uint64(v))
		h.Write(scratch[:])
	}

	writeInt(c.NumQubits)
	writeInt(len(c.Gates))
	for _, g := range c.Gates {
		h.Write([]byte(g.Kind))
		h.Write([]byte{0}) // kind terminator, keeps "RZ"+[1] distinct from "R"+"Z1"
		writeInt(len(g.Targets))
		for _, q := range g.Targets {
			writeInt(q)
		}
		writeInt(len(g.Controls))
		for _, q := range g.Controls {
			writeInt(q)
		}
	}
	return Fingerprint(hex.EncodeToString(h.Sum(nil))), nil
}

// ComputeFingerprint computes the structural fingerprint with the default
// digest size.
func ComputeFingerprint(c *Circuit) (Fingerprint, error) {
	return FingerprintSize(c, DefaultFingerprintSize)
}

// StructuralSummary renders the same structural material the fingerprint
// hashes as a readable string. The schedule cache stores it next to each plan
// and compares it on every hit, so a fingerprint collision between different
// structures is detected instead of silently reusing the wrong plan.
func StructuralSummary(c *Circuit) string {
	var b strings.Builder
	b.WriteString("n=")
	b.WriteString(strconv.Itoa(c.NumQubits))
	for _, g := range c.Gates {
		b.WriteByte(';')
		b.WriteString(string(g.Kind))
		b.WriteByte(':')
		for i, q := range g.Targets {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.Itoa(q))
		}
		if len(g.Controls) > 0 {
			b.WriteByte('|')
			for i, q := range g.Controls {
				if i > 0 {
					b.WriteByte(',')
				}
				b.WriteString(strconv.Itoa(q))
			}
		}
	}
	return b.String()
}
