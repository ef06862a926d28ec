package contrib

import (
	"context"
	"encoding/hex"

	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

// EntropySize is the fixed length of the participant-supplied randomness
// consumed by one contribution. Entropy is held only in volatile memory,
// never persisted, and used exactly once.
const EntropySize = 64

// Progress is one compute progress report.
type Progress struct {
	Count int
	Total int
}

// Computer is the opaque contribution capability. Implementations transform
// the predecessor's parameters with the participant's entropy and return the
// new parameters together with a raw hex hash of the contribution.
type Computer interface {
	Contribute(ctx context.Context, params, entropy []byte, progress chan<- Progress) (newParams []byte, hash string, err error)
}

// DevComputer is a deterministic stand-in engine for development and tests.
// It streams the parameter transform with a keyed BLAKE2b digest so the full
// download-compute-upload pipeline can run without the real crypto engine.
type DevComputer struct {
	chunkSize int
}

func NewDevComputer() *DevComputer {
	return &DevComputer{chunkSize: 1 << 16}
}

func (c *DevComputer) Contribute(ctx context.Context, params, entropy []byte, progress chan<- Progress) ([]byte, string, error) {
	if len(entropy) != EntropySize {
		return nil, "", errors.Errorf("entropy must be %d bytes, got %d", EntropySize, len(entropy))
	}

	h, err := blake2b.New512(entropy)
	if err != nil {
		return nil, "", errors.Wrap(err, "failed to init digest")
	}
	h.Write(params)
	digest := h.Sum(nil)

	newParams := make([]byte, len(params))
	total := len(params)
	for i := 0; i < total; i += c.chunkSize {
		if err := ctx.Err(); err != nil {
			return nil, "", errors.Wrap(err, "contribution cancelled")
		}
		end := i + c.chunkSize
		if end > total {
			end = total
		}
		for j := i; j < end; j++ {
			newParams[j] = params[j] ^ digest[j%len(digest)]
		}
		if progress != nil {
			progress <- Progress{Count: end, Total: total}
		}
	}

	return newParams, "0x" + hex.EncodeToString(digest), nil
}
