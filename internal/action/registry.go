package action

import (
	"slices"
)

type builder func(el *element, h header) (Action, error)

// registry maps each discriminator to the builder that reads its payload.
// A new action kind is one Type constant plus one entry here.
var registry = map[Type]builder{
	TypeCreateWorkItem: buildCreateWorkItem,
}

func lookup(t Type) (builder, bool) {
	b, ok := registry[t]
	return b, ok
}

// Known reports whether t is a registered discriminator. Matching is exact.
func (t Type) Known() bool {
	_, ok := registry[t]
	return ok
}

// Types lists registered discriminators in sorted order.
func Types() []Type {
	out := make([]Type, 0, len(registry))
	for t := range registry {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}
