package common

import (
	"encoding/json"

	"github.com/pkg/errors"
	"google.golang.org/grpc/encoding"
)

// JSONCodecName is the gRPC content subtype of the scoring service messages.
const JSONCodecName = "json"

// jsonCodec lets plain Go structs travel over gRPC without generated protobuf code.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrapf(err, "json marshal %T", v)
	}
	return data, nil
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrapf(err, "json unmarshal %T", v)
	}
	return nil
}

func (jsonCodec) Name() string {
	return JSONCodecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
