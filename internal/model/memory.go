// Package model defines the core memory data types.
package model

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Well-known metadata keys.
const (
	MetaChecksum   = "sha256_checksum"
	MetaImportance = "importance_score"
	MetaTimestamp  = "timestamp"
	MetaSpeaker    = "speaker"
	MetaTags       = "tags"
	MetaMemoryID   = "memory_id"
	MetaTemplateID = "template_id"
	MetaCategory   = "category"
	MetaIsTemplate = "is_template"
	MetaSource     = "source"
)

// Data types with special handling.
const (
	DataTypeDialogue = "dialogue_text"
	DataTypeTemplate = "memory_template"
)

// MemoryRecord is one persisted experience. EncryptedPackage holds the
// compressed and encrypted payload.
type MemoryRecord struct {
	ID               string    `json:"-"`
	Timestamp        time.Time `json:"timestamp"`
	DataType         string    `json:"dataType"`
	EncryptedPackage []byte    `json:"encryptedPackage"`
	Metadata         Metadata  `json:"metadata"`
	Relevance        float64   `json:"relevance"`
	Protected        bool      `json:"protected"`
}

// IsDialogue reports whether the record holds abstracted dialogue text.
func (r MemoryRecord) IsDialogue() bool {
	return IsDialogueType(r.DataType)
}

// IsDialogueType reports whether dataType goes through text abstraction.
func IsDialogueType(dataType string) bool {
	return strings.Contains(dataType, DataTypeDialogue)
}

// Clone returns a copy that shares no maps or slices with r.
func (r MemoryRecord) Clone() MemoryRecord {
	c := r
	c.EncryptedPackage = append([]byte(nil), r.EncryptedPackage...)
	c.Metadata = r.Metadata.Clone()
	return c
}

// Entities are the structured items pulled out of a text.
type Entities struct {
	URLs    []string `json:"urls"`
	Emails  []string `json:"emails"`
	Numbers []string `json:"numbers"`
}

// Gist is the structured abstraction of a dialogue text.
type Gist struct {
	Gist           string   `json:"gist"`
	Keywords       []string `json:"keywords"`
	Entities       Entities `json:"entities"`
	KeySentences   []string `json:"key_sentences"`
	FullTextHash   string   `json:"full_text_hash"`
	OriginalLength int      `json:"original_length"`
}

// Metadata is a flat string-keyed map of scalars and string lists.
type Metadata map[string]any

// Clone copies m. A nil map stays nil.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		if ss, ok := v.([]string); ok {
			v = append([]string(nil), ss...)
		}
		out[k] = v
	}
	return out
}

// String returns the value at key rendered as a string.
func (m Metadata) String(key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

// Float returns the numeric value at key.
func (m Metadata) Float(key string) (float64, bool) {
	return toFloat(m[key])
}

// Bool returns the boolean value at key.
func (m Metadata) Bool(key string) bool {
	switch x := m[key].(type) {
	case bool:
		return x
	case string:
		b, _ := strconv.ParseBool(x)
		return b
	}
	return false
}

// Strings returns the list value at key. A comma separated string is split.
func (m Metadata) Strings(key string) []string {
	switch x := m[key].(type) {
	case []string:
		return x
	case []any:
		out := make([]string, 0, len(x))
		for _, v := range x {
			out = append(out, fmt.Sprint(v))
		}
		return out
	case string:
		if x == "" {
			return nil
		}
		var out []string
		for _, p := range strings.Split(x, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return nil
}

// Keys returns the keys of m in sorted order.
func (m Metadata) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// NormalizeMetadata flattens nested maps into dotted keys and converts
// values into the types that survive a JSON round trip unchanged.
func NormalizeMetadata(in map[string]any) Metadata {
	out := make(Metadata, len(in))
	flatten("", in, out)
	return out
}

func flatten(prefix string, in map[string]any, out Metadata) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch x := v.(type) {
		case map[string]any:
			flatten(key, x, out)
		case Metadata:
			flatten(key, x, out)
		case map[string]string:
			for sk, sv := range x {
				out[key+"."+sk] = sv
			}
		case time.Time:
			out[key] = x.UTC().Format(time.RFC3339Nano)
		case []string:
			out[key] = append([]string(nil), x...)
		case []any:
			ss := make([]string, 0, len(x))
			for _, e := range x {
				ss = append(ss, fmt.Sprint(e))
			}
			out[key] = ss
		case string, bool, nil:
			out[key] = x
		default:
			if f, ok := toFloat(x); ok {
				out[key] = f
			} else {
				out[key] = fmt.Sprint(x)
			}
		}
	}
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}

// IsNumeric reports whether v is a number (strings excluded).
func IsNumeric(v any) bool {
	if _, ok := v.(string); ok {
		return false
	}
	_, ok := toFloat(v)
	return ok
}

// FormatID renders the sequential memory id.
func FormatID(n int64) string {
	return fmt.Sprintf("mem_%06d", n)
}
