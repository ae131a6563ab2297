package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec turns a SessionRecord into bytes and back without loss.
type Codec interface {
	Name() string
	Marshal(rec *SessionRecord) ([]byte, error)
	Unmarshal(data []byte, rec *SessionRecord) error
}

const (
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"
)

func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", CodecJSON:
		return JSONCodec{}, nil
	case CodecMsgpack:
		return MsgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown session codec %q", name)
	}
}

type JSONCodec struct{}

func (JSONCodec) Name() string { return CodecJSON }

func (JSONCodec) Marshal(rec *SessionRecord) ([]byte, error) {
	if rec == nil {
		return nil, ErrNilSessionState
	}
	return json.Marshal(rec)
}

func (JSONCodec) Unmarshal(data []byte, rec *SessionRecord) error {
	if err := json.Unmarshal(data, rec); err != nil {
		return err
	}
	rec.normalize()
	return nil
}

// MsgpackCodec decodes loosely so step inputs come back as int64, uint64,
// float64 and string rather than the narrowest wire type.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string { return CodecMsgpack }

func (MsgpackCodec) Marshal(rec *SessionRecord) ([]byte, error) {
	if rec == nil {
		return nil, ErrNilSessionState
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(rec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (MsgpackCodec) Unmarshal(data []byte, rec *SessionRecord) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	if err := dec.Decode(rec); err != nil {
		return err
	}
	rec.normalize()
	return nil
}
