package distribution

import (
	"crypto/md5" //nolint:gosec // md5 is part of the published digest set, not used for security
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// PackageType identifies the build format of an uploaded artifact.
type PackageType string

const (
	Sdist        PackageType = "sdist"
	BdistWheel   PackageType = "bdist_wheel"
	BdistEgg     PackageType = "bdist_egg"
	BdistRpm     PackageType = "bdist_rpm"
	BdistMsi     PackageType = "bdist_msi"
	BdistDmg     PackageType = "bdist_dmg"
	BdistDumb    PackageType = "bdist_dumb"
	BdistWininst PackageType = "bdist_wininst"
)

// Valid reports whether t is one of the known package types.
func (t PackageType) Valid() bool {
	switch t {
	case Sdist, BdistWheel, BdistEgg, BdistRpm, BdistMsi, BdistDmg, BdistDumb, BdistWininst:
		return true
	}
	return false
}

// PackageTypeFromFilename infers the package type from an artifact filename.
// Unknown extensions default to sdist, matching how legacy tooling filed
// arbitrary archives.
func PackageTypeFromFilename(filename string) PackageType {
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".whl"):
		return BdistWheel
	case strings.HasSuffix(lower, ".egg"):
		return BdistEgg
	case strings.HasSuffix(lower, ".rpm"):
		return BdistRpm
	case strings.HasSuffix(lower, ".msi"):
		return BdistMsi
	case strings.HasSuffix(lower, ".dmg"):
		return BdistDmg
	case strings.HasSuffix(lower, ".exe"):
		return BdistWininst
	default:
		return Sdist
	}
}

// ErrDigestMismatch is returned when a published digest does not match the
// uploaded content.
var ErrDigestMismatch = errors.New("digest does not match uploaded content")

// Hashes holds the digests published with an artifact, as lower-case hex.
type Hashes struct {
	MD5Digest        string `json:"md5_digest"`
	SHA256Digest     string `json:"sha256_digest"`
	Blake2b256Digest string `json:"blake2_256_digest"`
}

// Normalized returns a copy with every digest lower-cased. Digests are
// case-normalized before storage and comparison.
func (h Hashes) Normalized() Hashes {
	return Hashes{
		MD5Digest:        strings.ToLower(h.MD5Digest),
		SHA256Digest:     strings.ToLower(h.SHA256Digest),
		Blake2b256Digest: strings.ToLower(h.Blake2b256Digest),
	}
}

// Verify recomputes each non-empty digest over content and compares
// case-insensitively. Digest format validation belongs to the upload
// boundary; only content integrity is checked here.
func (h Hashes) Verify(content []byte) error {
	if h.MD5Digest != "" {
		sum := md5.Sum(content) //nolint:gosec // published digest, not a security boundary
		if !strings.EqualFold(hex.EncodeToString(sum[:]), h.MD5Digest) {
			return fmt.Errorf("md5: %w", ErrDigestMismatch)
		}
	}
	if h.SHA256Digest != "" {
		sum := sha256.Sum256(content)
		if !strings.EqualFold(hex.EncodeToString(sum[:]), h.SHA256Digest) {
			return fmt.Errorf("sha256: %w", ErrDigestMismatch)
		}
	}
	if h.Blake2b256Digest != "" {
		sum := blake2b.Sum256(content)
		if !strings.EqualFold(hex.EncodeToString(sum[:]), h.Blake2b256Digest) {
			return fmt.Errorf("blake2_256: %w", ErrDigestMismatch)
		}
	}
	return nil
}

// ComputeHashes derives the full digest set for content, lower-case hex.
func ComputeHashes(content []byte) Hashes {
	md5Sum := md5.Sum(content) //nolint:gosec // published digest, not a security boundary
	shaSum := sha256.Sum256(content)
	blakeSum := blake2b.Sum256(content)
	return Hashes{
		MD5Digest:        hex.EncodeToString(md5Sum[:]),
		SHA256Digest:     hex.EncodeToString(shaSum[:]),
		Blake2b256Digest: hex.EncodeToString(blakeSum[:]),
	}
}

// File is one uploaded artifact: its filename and raw bytes.
type File struct {
	Filename string `json:"filename"`
	Content  []byte `json:"content"`
}

// Distribution is the fully-parsed form of an upload, built by the HTTP
// boundary once multipart decoding and field validation are done.
type Distribution struct {
	Metadata      CoreMetadata `json:"metadata"`
	File          File         `json:"file"`
	Hashes        Hashes       `json:"hashes"`
	PythonVersion string       `json:"python_version,omitempty"`
}
