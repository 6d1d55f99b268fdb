package format

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// WriteEDN writes v as EDN. Values go through JSON first so json tags decide
// the field names. Map keys become keywords when they are valid keyword
// names and stay strings otherwise; person names and item ids often aren't.
func WriteEDN(w io.Writer, v any, pretty bool) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var x any
	if err := dec.Decode(&x); err != nil {
		return err
	}

	var buf bytes.Buffer
	enc := ednEncoder{pretty: pretty, indent: 2}
	enc.writeAny(&buf, x, 0)
	buf.WriteByte('\n')
	_, err = w.Write(buf.Bytes())
	return err
}

type ednEncoder struct {
	pretty bool
	indent int
}

func (e ednEncoder) writeAny(buf *bytes.Buffer, v any, level int) {
	switch t := v.(type) {
	case nil:
		buf.WriteString("nil")
	case bool:
		buf.WriteString(strconv.FormatBool(t))
	case string:
		buf.WriteString(strconv.Quote(t))
	case json.Number:
		buf.WriteString(t.String())
	case []any:
		e.writeVec(buf, t, level)
	case map[string]any:
		e.writeMap(buf, t, level)
	default:
		buf.WriteString(strconv.Quote(fmt.Sprint(v)))
	}
}

// sep writes the separator between two elements of a collection.
func (e ednEncoder) sep(buf *bytes.Buffer, level int) {
	if e.pretty {
		buf.WriteByte('\n')
		buf.WriteString(strings.Repeat(" ", level*e.indent))
		return
	}
	buf.WriteByte(' ')
}

func (e ednEncoder) open(buf *bytes.Buffer, level int) {
	if e.pretty {
		buf.WriteByte('\n')
		buf.WriteString(strings.Repeat(" ", level*e.indent))
	}
}

func (e ednEncoder) close(buf *bytes.Buffer, level int) {
	if e.pretty {
		buf.WriteByte('\n')
		buf.WriteString(strings.Repeat(" ", level*e.indent))
	}
}

func (e ednEncoder) writeVec(buf *bytes.Buffer, xs []any, level int) {
	buf.WriteByte('[')
	if len(xs) == 0 {
		buf.WriteByte(']')
		return
	}
	e.open(buf, level+1)
	for i, it := range xs {
		if i > 0 {
			e.sep(buf, level+1)
		}
		e.writeAny(buf, it, level+1)
	}
	e.close(buf, level)
	buf.WriteByte(']')
}

func (e ednEncoder) writeMap(buf *bytes.Buffer, m map[string]any, level int) {
	buf.WriteByte('{')
	if len(m) == 0 {
		buf.WriteByte('}')
		return
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	e.open(buf, level+1)
	for i, k := range keys {
		if i > 0 {
			e.sep(buf, level+1)
		}
		if isKeyword(k) {
			buf.WriteByte(':')
			buf.WriteString(k)
		} else {
			buf.WriteString(strconv.Quote(k))
		}
		buf.WriteByte(' ')
		e.writeAny(buf, m[k], level+1)
	}
	e.close(buf, level)
	buf.WriteByte('}')
}

// isKeyword reports whether s can be written as :s.
func isKeyword(s string) bool {
	if s == "" || strings.Count(s, "/") > 1 {
		return false
	}
	for i, r := range s {
		switch {
		case unicode.IsLetter(r):
		case r == '*' || r == '+' || r == '!' || r == '-' || r == '_' || r == '?' || r == '<' || r == '>' || r == '=' || r == '.':
		case unicode.IsDigit(r) && i > 0:
		case r == '/' && i > 0 && i < len(s)-1:
		default:
			return false
		}
	}
	return true
}
