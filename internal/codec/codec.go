package codec

import (
	"bytes"
	"encoding/json"
	"strings"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rzzdr/cat-risk-pipeline/pkg/utils/errors"
)

// Format names a wire encoding
type Format string

const (
	// FormatJSON is plain JSON
	FormatJSON Format = "json"
	// FormatProtobuf is a google.protobuf.Struct in binary wire format
	FormatProtobuf Format = "protobuf"
)

// Codec converts messages to and from their wire form
type Codec interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
	ContentType() string
}

// New returns the codec for format. An empty format selects JSON.
func New(format string) (Codec, error) {
	switch Format(strings.ToLower(strings.TrimSpace(format))) {
	case "", FormatJSON:
		return jsonCodec{}, nil
	case FormatProtobuf, "proto":
		return protoCodec{}, nil
	default:
		return nil, errors.InvalidArgument("unknown codec format %q", format)
	}
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(errors.WithType(err, errors.ErrorTypeInvalidArgument), "json encode")
	}
	return data, nil
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(errors.WithType(err, errors.ErrorTypeInvalidArgument), "json decode")
	}
	return nil
}

func (jsonCodec) ContentType() string { return "application/json" }

// protoCodec carries the JSON shape of a message inside a structpb.Struct.
// Numbers travel as doubles, so integers wider than 53 bits must be tagged
// with the json ",string" option to survive the round trip.
type protoCodec struct{}

func (protoCodec) Marshal(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(errors.WithType(err, errors.ErrorTypeInvalidArgument), "protobuf encode")
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, errors.InvalidArgument("protobuf encode: message must be a JSON object: %v", err)
	}

	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, errors.Wrap(errors.WithType(err, errors.ErrorTypeInvalidArgument), "protobuf encode")
	}
	return proto.Marshal(st)
}

func (protoCodec) Unmarshal(data []byte, v interface{}) error {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return errors.Wrap(errors.WithType(err, errors.ErrorTypeInvalidArgument), "protobuf decode")
	}

	raw, err := json.Marshal(st.AsMap())
	if err != nil {
		return errors.Wrap(errors.WithType(err, errors.ErrorTypeInternal), "protobuf decode")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.Wrap(errors.WithType(err, errors.ErrorTypeInvalidArgument), "protobuf decode")
	}
	return nil
}

func (protoCodec) ContentType() string { return "application/x-protobuf" }
