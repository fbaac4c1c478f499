package fl

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/golang/snappy"
)

// EncodeParameters returns the snappy-compressed CBOR form of pv.
func EncodeParameters(pv ParameterVector) ([]byte, error) {
	data, err := cbor.Marshal(pv)
	if err != nil {
		return nil, fmt.Errorf("failed to encode parameters: %w", err)
	}

	return snappy.Encode(nil, data), nil
}

func DecodeParameters(data []byte) (ParameterVector, error) {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return ParameterVector{}, fmt.Errorf("failed to decompress parameters: %w", err)
	}

	var pv ParameterVector
	if err := cbor.Unmarshal(raw, &pv); err != nil {
		return ParameterVector{}, fmt.Errorf("failed to decode parameters: %w", err)
	}

	return pv, nil
}
