package mi

import (
	"strings"
)

// Value is a node of an MI payload: a Const, a List, or a Tuple.
type Value interface {
	// String renders the value in MI syntax.
	String() string
	isValue()
}

// Const is a string leaf. MI has no numeric or boolean leaves.
type Const string

// List is an ordered sequence of values. Named list elements
// (name=value) are represented as one-field tuples.
type List []Value

// Field is one key=value member of a Tuple.
type Field struct {
	Name  string
	Value Value
}

// Tuple is a set of uniquely named fields. Field order is kept for
// display but ignored by Equal.
type Tuple []Field

func (Const) isValue() {}
func (List) isValue()  {}
func (Tuple) isValue() {}

func (c Const) String() string {
	return quote(string(c))
}

func (l List) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range l {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(valueString(v))
	}
	b.WriteByte(']')
	return b.String()
}

func (t Tuple) String() string {
	var b strings.Builder
	b.WriteByte('{')
	t.writeFields(&b)
	b.WriteByte('}')
	return b.String()
}

func (t Tuple) writeFields(b *strings.Builder) {
	for i, f := range t {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(f.Name)
		b.WriteByte('=')
		b.WriteString(valueString(f.Value))
	}
}

func valueString(v Value) string {
	if v == nil {
		return `""`
	}
	return v.String()
}

// Get returns the value stored under name.
func (t Tuple) Get(name string) (Value, bool) {
	for _, f := range t {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Has reports whether the tuple has a field called name.
func (t Tuple) Has(name string) bool {
	_, ok := t.Get(name)
	return ok
}

// Const returns the string leaf stored under name, or "" when the field
// is missing or is not a Const.
func (t Tuple) Const(name string) string {
	v, _ := t.Get(name)
	c, _ := v.(Const)
	return string(c)
}

// Tuple returns the tuple stored under name.
func (t Tuple) Tuple(name string) (Tuple, bool) {
	v, _ := t.Get(name)
	tt, ok := v.(Tuple)
	return tt, ok
}

// List returns the list stored under name.
func (t Tuple) List(name string) (List, bool) {
	v, _ := t.Get(name)
	l, ok := v.(List)
	return l, ok
}

// Set stores v under name. An existing field with the same name is
// replaced in place so keys stay unique.
func (t *Tuple) Set(name string, v Value) {
	for i := range *t {
		if (*t)[i].Name == name {
			(*t)[i].Value = v
			return
		}
	}
	*t = append(*t, Field{Name: name, Value: v})
}

// Unwrap returns the inner value of a named list element such as the
// frame={...} entries of a stack listing. Values that are not one-field
// tuples are returned unchanged.
func Unwrap(v Value) Value {
	if t, ok := v.(Tuple); ok && len(t) == 1 {
		return t[0].Value
	}
	return v
}

// Equal reports whether two values are structurally equal. Tuples
// compare as unordered sets of fields; lists compare element-wise.
func Equal(a, b Value) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case Const:
		bv, ok := b.(Const)
		return ok && av == bv
	case List:
		bv, ok := b.(List)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Tuple:
		bv, ok := b.(Tuple)
		if !ok || len(av) != len(bv) {
			return false
		}
		for _, f := range av {
			other, ok := bv.Get(f.Name)
			if !ok || !Equal(f.Value, other) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
