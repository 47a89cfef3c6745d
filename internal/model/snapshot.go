package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Field is a single named value of a domain object.
type Field struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// Snapshot is an ordered dump of an object's fields. It encodes as a JSON
// object whose keys keep their original order.
type Snapshot []Field

func (s Snapshot) Get(key string) (any, bool) {
	for _, field := range s {
		if field.Key == key {
			return field.Value, true
		}
	}
	return nil, false
}

// With returns a copy of s where key is set to value.
func (s Snapshot) With(key string, value any) Snapshot {
	out := make(Snapshot, 0, len(s)+1)
	replaced := false
	for _, field := range s {
		if field.Key == key {
			out = append(out, Field{Key: key, Value: value})
			replaced = true
			continue
		}
		out = append(out, field)
	}
	if !replaced {
		out = append(out, Field{Key: key, Value: value})
	}
	return out
}

func (s Snapshot) Map() map[string]any {
	out := make(map[string]any, len(s))
	for _, field := range s {
		out[field.Key] = field.Value
	}
	return out
}

func (s Snapshot) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("null"), nil
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, field := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(field.Key)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(field.Value)
		if err != nil {
			return nil, fmt.Errorf("marshal snapshot field %q: %w", field.Key, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (s *Snapshot) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*s = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("snapshot must be a JSON object")
	}

	out := Snapshot{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("snapshot key must be a string")
		}

		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("decode snapshot field %q: %w", key, err)
		}
		out = append(out, Field{Key: key, Value: value})
	}

	if _, err := dec.Token(); err != nil {
		return err
	}

	*s = out
	return nil
}
