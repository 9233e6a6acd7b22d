package gearapi

import (
	"encoding/json"
)

const (
	JsonCodec string = "json"
)

// MessageCodec turns broker envelopes and cached values into bytes and back.
type MessageCodec interface {
	Name() string
	Encode(v interface{}) ([]byte, error)
	Decode(data []byte, v interface{}) error
}

func NewDefaultCodec() MessageCodec {
	return &jsonCodec{}
}

type jsonCodec struct{}

func (c jsonCodec) Name() string {
	return JsonCodec
}

func (c jsonCodec) Encode(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (c jsonCodec) Decode(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
