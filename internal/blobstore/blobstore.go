// Package blobstore provides the flow.BlobStore backends that snapshot
// state pointers resolve through.
//
// Three backends cover the deployment spectrum. Inline encodes the
// blob into the key itself, keeping small states inside the snapshot
// row with no external storage. Dir is a content-addressed directory
// of zstd-compressed files keyed by BLAKE3 digest, for states too
// large to inline. Null rejects both operations for callers that never
// snapshot.
package blobstore

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"github.com/cadmalab/flowstore/internal/flow"
)

// Key prefixes identify which backend produced a pointer, so a reader
// handed an unknown pointer can fail with a useful message instead of
// a decode error.
const (
	inlinePrefix = "inline:"
	hashPrefix   = "b3:"
)

// stateDomainKey is the BLAKE3 keyed-hash domain for snapshot state.
// A fixed constant: changing it invalidates every stored blob key. The
// bytes are the ASCII domain name zero-padded to the 32 bytes keyed
// mode requires, so the key is inspectable in a hex dump.
var stateDomainKey = [32]byte{
	'f', 'l', 'o', 'w', 's', 't', 'o', 'r', 'e', '.',
	's', 'n', 'a', 'p', 's', 'h', 'o', 't', '.',
	's', 't', 'a', 't', 'e', 0, 0, 0, 0, 0, 0, 0, 0,
}

// hashState computes the state-domain BLAKE3 keyed digest.
func hashState(blob []byte) [32]byte {
	hasher, err := blake3.NewKeyed(stateDomainKey[:])
	if err != nil {
		// NewKeyed fails only on a wrong key length, which the fixed
		// array rules out.
		panic("blobstore: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(blob)
	var digest [32]byte
	copy(digest[:], hasher.Sum(nil))
	return digest
}

// zstdEncoder and zstdDecoder are shared across stores; both are safe
// for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("blobstore: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("blobstore: zstd decoder initialization failed: " + err.Error())
	}
}

// Inline stores blobs in the key itself: the pointer is the payload,
// base64-encoded. No external storage is touched, which makes it the
// default for small snapshot states.
type Inline struct{}

var _ flow.BlobStore = Inline{}

// Put encodes the blob into the returned key.
func (Inline) Put(blob []byte) (string, error) {
	return inlinePrefix + base64.RawStdEncoding.EncodeToString(blob), nil
}

// Get decodes a key produced by Put.
func (Inline) Get(key string) ([]byte, error) {
	encoded, ok := strings.CutPrefix(key, inlinePrefix)
	if !ok {
		return nil, fmt.Errorf("not an inline blob key: %q", key)
	}
	blob, err := base64.RawStdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode inline blob: %w", err)
	}
	return blob, nil
}

// Dir is a content-addressed blob directory. Files are named by the
// hex BLAKE3 digest of the uncompressed blob, fanned out over a
// two-character subdirectory, and stored zstd-compressed. Identical
// blobs deduplicate to one file.
type Dir struct {
	root string
}

var _ flow.BlobStore = (*Dir)(nil)

// NewDir opens (creating if needed) a blob directory rooted at path.
func NewDir(path string) (*Dir, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create blob directory: %w", err)
	}
	return &Dir{root: path}, nil
}

// Put stores the blob and returns its content-addressed key. Storing
// the same bytes twice is a no-op returning the same key.
func (d *Dir) Put(blob []byte) (string, error) {
	digest := hashState(blob)
	hexDigest := hex.EncodeToString(digest[:])
	path := d.blobPath(hexDigest)

	if _, err := os.Stat(path); err == nil {
		return hashPrefix + hexDigest, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create blob fanout: %w", err)
	}

	compressed := zstdEncoder.EncodeAll(blob, nil)

	// Write-then-rename so a concurrent Get never sees a partial file.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return "", fmt.Errorf("create blob temp file: %w", err)
	}
	if _, err := tmp.Write(compressed); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("rename blob: %w", err)
	}
	return hashPrefix + hexDigest, nil
}

// Get retrieves and verifies a blob by its content-addressed key.
func (d *Dir) Get(key string) ([]byte, error) {
	hexDigest, ok := strings.CutPrefix(key, hashPrefix)
	if !ok {
		return nil, fmt.Errorf("not a content-addressed blob key: %q", key)
	}
	if len(hexDigest) != 64 {
		return nil, fmt.Errorf("blob key digest is %d hex chars, want 64", len(hexDigest))
	}

	compressed, err := os.ReadFile(d.blobPath(hexDigest))
	if os.IsNotExist(err) {
		return nil, flow.NotFound("", "blob "+key)
	}
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}

	blob, err := zstdDecoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress blob %s: %w", key, err)
	}

	// Verify content addressing on the way out. A mismatch means the
	// file was corrupted or tampered with after Put.
	digest := hashState(blob)
	if hex.EncodeToString(digest[:]) != hexDigest {
		return nil, fmt.Errorf("blob %s failed digest verification", key)
	}
	return blob, nil
}

func (d *Dir) blobPath(hexDigest string) string {
	return filepath.Join(d.root, hexDigest[:2], hexDigest+".zst")
}

// Null rejects all blob operations. For deployments that never
// snapshot, it turns accidental snapshot use into a distinct
// NOT_IMPLEMENTED error rather than a silent misconfiguration.
type Null struct{}

var _ flow.BlobStore = Null{}

// Put always fails with NOT_IMPLEMENTED.
func (Null) Put(blob []byte) (string, error) {
	return "", flow.NotImplemented("blob put")
}

// Get always fails with NOT_IMPLEMENTED.
func (Null) Get(key string) ([]byte, error) {
	return nil, flow.NotImplemented("blob get")
}
