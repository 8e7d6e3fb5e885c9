package action

import "iter"

// Fields maps work item field names to values and remembers the order in
// which names were first seen. Setting an existing name replaces its value
// in place.
type Fields struct {
	names  []string
	values map[string]string
}

func (f *Fields) Set(name, value string) {
	if f.values == nil {
		f.values = make(map[string]string)
	}
	if _, ok := f.values[name]; !ok {
		f.names = append(f.names, name)
	}
	f.values[name] = value
}

func (f Fields) Get(name string) (string, bool) {
	v, ok := f.values[name]
	return v, ok
}

func (f Fields) Len() int {
	return len(f.names)
}

// Names returns field names in first-seen order.
func (f Fields) Names() []string {
	return append([]string(nil), f.names...)
}

// All iterates fields in first-seen order.
func (f Fields) All() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		for _, n := range f.names {
			if !yield(n, f.values[n]) {
				return
			}
		}
	}
}

// Map returns a plain copy of the fields.
func (f Fields) Map() map[string]string {
	m := make(map[string]string, len(f.names))
	for n, v := range f.All() {
		m[n] = v
	}
	return m
}

func (f Fields) clone() Fields {
	var out Fields
	for n, v := range f.All() {
		out.Set(n, v)
	}
	return out
}
