package processor

import (
	"encoding/json"
	"fmt"

	"github.com/rcliao/ham/internal/hamerr"
	"github.com/rcliao/ham/internal/model"
)

// Payload is the pre-compression form of an experience.
type Payload struct {
	Bytes []byte
	// Gist is set for dialogue text, whose bytes are the JSON gist.
	Gist *model.Gist
	// Text is the raw content as text, forwarded to the semantic index.
	Text string
}

// EncodePayload serializes raw content for the given data type. Dialogue
// text is abstracted; other values are kept as text or JSON.
func EncodePayload(raw any, dataType string) (Payload, error) {
	text, err := Stringify(raw)
	if err != nil {
		return Payload{}, err
	}
	if !model.IsDialogueType(dataType) {
		return Payload{Bytes: []byte(text), Text: text}, nil
	}
	g := AbstractText(text)
	b, err := json.Marshal(g)
	if err != nil {
		return Payload{}, hamerr.Wrap(hamerr.KindSerialization, "processor.encode_gist", err)
	}
	return Payload{Bytes: b, Gist: &g, Text: text}, nil
}

// Stringify renders raw content. Strings and byte slices are used as is,
// everything else is JSON encoded.
func Stringify(raw any) (string, error) {
	switch v := raw.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case fmt.Stringer:
		return v.String(), nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return "", hamerr.Wrap(hamerr.KindSerialization, "processor.stringify", err)
	}
	return string(b), nil
}

// DecodeGist parses the payload of a dialogue record.
func DecodeGist(b []byte) (model.Gist, error) {
	var g model.Gist
	if err := json.Unmarshal(b, &g); err != nil {
		return g, hamerr.Wrap(hamerr.KindSerialization, "processor.decode_gist", err)
	}
	return g, nil
}
