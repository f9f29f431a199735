package serializer

import (
	"fmt"

	"github.com/klauspost/compress/s2"

	"github.com/marlinkv/marlin/rpc/common"
)

// defaultCompressThreshold is the encoded size above which frames get
// compressed. Restore payloads of large values dominate migration
// traffic, handshake and journal frames stay below it.
const defaultCompressThreshold = 2048

// Leading marker byte of every compressed-capable frame.
const (
	frameRaw        byte = 0
	frameCompressed byte = 1
)

// NewS2Serializer wraps another serializer and compresses frames whose
// encoded form exceeds threshold. A threshold of 0 selects the default.
func NewS2Serializer(inner IRPCSerializer, threshold int) IRPCSerializer {
	if threshold <= 0 {
		threshold = defaultCompressThreshold
	}
	return &s2SerializerImpl{inner: inner, threshold: threshold}
}

// s2SerializerImpl implements IRPCSerializer by delegating the encoding
// and compressing the result above a size threshold
type s2SerializerImpl struct {
	inner     IRPCSerializer
	threshold int
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (c s2SerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	encoded, err := c.inner.Serialize(msg)
	if err != nil {
		return nil, err
	}

	if len(encoded) <= c.threshold {
		out := make([]byte, 1+len(encoded))
		out[0] = frameRaw
		copy(out[1:], encoded)
		return out, nil
	}

	compressed := s2.Encode(nil, encoded)
	out := make([]byte, 1+len(compressed))
	out[0] = frameCompressed
	copy(out[1:], compressed)
	return out, nil
}

func (c s2SerializerImpl) Deserialize(b []byte, msg *common.Message) error {
	if len(b) < 1 {
		return fmt.Errorf("data too short for compression marker")
	}

	switch b[0] {
	case frameRaw:
		return c.inner.Deserialize(b[1:], msg)
	case frameCompressed:
		decoded, err := s2.Decode(nil, b[1:])
		if err != nil {
			return fmt.Errorf("failed to decompress frame: %v", err)
		}
		return c.inner.Deserialize(decoded, msg)
	default:
		return fmt.Errorf("unknown compression marker %d", b[0])
	}
}
