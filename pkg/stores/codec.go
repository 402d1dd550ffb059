package stores

import (
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"github.com/openfroyo/cookbooks/pkg/engine"
)

// Plans are stored as deterministic CBOR compressed with zstd. The digest
// column is the BLAKE3 hash of the compressed bytes.

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
	zstdEnc *zstd.Encoder
	zstdDec *zstd.Decoder
)

func init() {
	var err error
	if cborEnc, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}
	if cborDec, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic(err)
	}
	if zstdEnc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault)); err != nil {
		panic(err)
	}
	if zstdDec, err = zstd.NewReader(nil); err != nil {
		panic(err)
	}
}

func encodePlan(plan *engine.Plan) (payload []byte, digest string, err error) {
	raw, err := cborEnc.Marshal(plan)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode plan: %w", err)
	}
	payload = zstdEnc.EncodeAll(raw, nil)
	return payload, digestOf(payload), nil
}

func decodePlan(payload []byte, digest string) (*engine.Plan, error) {
	if got := digestOf(payload); got != digest {
		return nil, fmt.Errorf("plan payload digest mismatch: stored %s, computed %s", digest, got)
	}
	raw, err := zstdDec.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress plan: %w", err)
	}
	var plan engine.Plan
	if err := cborDec.Unmarshal(raw, &plan); err != nil {
		return nil, fmt.Errorf("failed to decode plan: %w", err)
	}
	return &plan, nil
}

func digestOf(b []byte) string {
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:])
}
