// Package canonical produces the deterministic byte form of a document that
// trace hashes commit to.
//
// Objects are written with keys sorted by byte order at every level, arrays
// keep their order, and no whitespace is emitted. Strings are UTF-8 with only
// the quote, backslash and control characters escaped. Integers are plain
// decimals and floats use the shortest round-trip form.
package canonical

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

var (
	ErrUnsupportedType = errors.New("canonical: unsupported type")
	ErrInvalidNumber   = errors.New("canonical: invalid number")
	ErrInvalidString   = errors.New("canonical: invalid UTF-8 string")
)

// excludeTree maps a key to its excluded children; a nil subtree drops the key.
type excludeTree map[string]excludeTree

func newExcludeTree(paths []string) excludeTree {
	if len(paths) == 0 {
		return nil
	}
	root := excludeTree{}
	for _, p := range paths {
		node := root
		parts := strings.Split(p, ".")
		for i, part := range parts {
			last := i == len(parts)-1
			child, seen := node[part]
			if last {
				node[part] = nil
				break
			}
			if seen && child == nil {
				// already dropped entirely
				break
			}
			if child == nil {
				child = excludeTree{}
				node[part] = child
			}
			node = child
		}
	}
	return root
}

// Marshal encodes v canonically. Each exclude entry names a top-level key or
// a dotted path into nested objects ("metadata.trace_hash") to leave out.
// Values that are not generic trees (structs, typed maps) are lifted
// through their JSON representation first.
func Marshal(v any, exclude ...string) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, v, newExcludeTree(exclude)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FromStruct converts any JSON-encodable value into a generic tree of
// map[string]any, []any, string, bool, nil and json.Number.
func FromStruct(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: encode %T: %w", v, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("canonical: decode %T: %w", v, err)
	}
	return out, nil
}

func encode(buf *bytes.Buffer, v any, ex excludeTree) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		return encodeString(buf, t)
	case json.Number:
		return encodeNumber(buf, t)
	case int:
		buf.WriteString(strconv.FormatInt(int64(t), 10))
	case int8:
		buf.WriteString(strconv.FormatInt(int64(t), 10))
	case int16:
		buf.WriteString(strconv.FormatInt(int64(t), 10))
	case int32:
		buf.WriteString(strconv.FormatInt(int64(t), 10))
	case int64:
		buf.WriteString(strconv.FormatInt(t, 10))
	case uint:
		buf.WriteString(strconv.FormatUint(uint64(t), 10))
	case uint8:
		buf.WriteString(strconv.FormatUint(uint64(t), 10))
	case uint16:
		buf.WriteString(strconv.FormatUint(uint64(t), 10))
	case uint32:
		buf.WriteString(strconv.FormatUint(uint64(t), 10))
	case uint64:
		buf.WriteString(strconv.FormatUint(t, 10))
	case float32:
		return encodeFloat(buf, float64(t))
	case float64:
		return encodeFloat(buf, t)
	case map[string]any:
		return encodeObject(buf, t, ex)
	case map[string]string:
		m := make(map[string]any, len(t))
		for k, s := range t {
			m[k] = s
		}
		return encodeObject(buf, m, ex)
	case []any:
		return encodeArray(buf, t)
	case []string:
		arr := make([]any, len(t))
		for i, s := range t {
			arr[i] = s
		}
		return encodeArray(buf, arr)
	default:
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Func || rv.Kind() == reflect.Chan || rv.Kind() == reflect.Complex64 || rv.Kind() == reflect.Complex128 {
			return fmt.Errorf("%w: %T", ErrUnsupportedType, v)
		}
		tree, err := FromStruct(v)
		if err != nil {
			return err
		}
		return encode(buf, tree, ex)
	}
	return nil
}

func encodeObject(buf *bytes.Buffer, m map[string]any, ex excludeTree) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		if sub, ok := ex[k]; ok && sub == nil {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeString(buf, k); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := encode(buf, m[k], ex[k]); err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
	}
	buf.WriteByte('}')
	return nil
}

func encodeArray(buf *bytes.Buffer, arr []any) error {
	buf.WriteByte('[')
	for i, item := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encode(buf, item, nil); err != nil {
			return fmt.Errorf("[%d]: %w", i, err)
		}
	}
	buf.WriteByte(']')
	return nil
}

const hexDigits = "0123456789abcdef"

func encodeString(buf *bytes.Buffer, s string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("%w: %q", ErrInvalidString, s)
	}
	buf.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if c < 0x20 {
				buf.WriteString(`\u00`)
				buf.WriteByte(hexDigits[c>>4])
				buf.WriteByte(hexDigits[c&0xf])
				continue
			}
			buf.WriteByte(c)
		}
	}
	buf.WriteByte('"')
	return nil
}

func encodeNumber(buf *bytes.Buffer, n json.Number) error {
	s := string(n)
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			buf.WriteString(strconv.FormatInt(i, 10))
			return nil
		}
		if u, err := strconv.ParseUint(s, 10, 64); err == nil {
			buf.WriteString(strconv.FormatUint(u, 10))
			return nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidNumber, s)
	}
	return encodeFloat(buf, f)
}

func encodeFloat(buf *bytes.Buffer, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidNumber, f)
	}
	if f == 0 {
		buf.WriteByte('0')
		return nil
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e21 {
		buf.WriteString(strconv.FormatFloat(f, 'f', -1, 64))
		return nil
	}
	buf.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	return nil
}
