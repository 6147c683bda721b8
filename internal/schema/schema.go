// Package schema declares the externally facing parameter descriptors of
// processing blocks and chains. The host renders them into whatever
// argument UI it owns; chainproc only cares about names, types, defaults
// and the grouping keys controlling display order.
package schema

type Kind int

const (
	KindString Kind = iota
	KindLong
	KindDouble
	KindBool
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindLong:
		return "long"
	case KindDouble:
		return "double"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	default:
		return "unknown"
	}
}

// Param is one typed parameter descriptor. Grouping is a dotted ordering
// key ("0.1", "01.2"); when a block is placed into a chain the chain
// prefixes it with the block ordinal so parameters render block by block.
type Param struct {
	Name        string
	Kind        Kind
	Description string
	Optional    bool
	Default     any
	Values      []string
	Grouping    string
}

// WithGroupPrefix returns a copy of p with its grouping key nested under
// prefix. Copying keeps block declarations free of per-chain mutations.
func (p Param) WithGroupPrefix(prefix string) Param {
	out := p
	out.Values = append([]string(nil), p.Values...)
	if out.Grouping == "" {
		out.Grouping = prefix
	} else {
		out.Grouping = prefix + "." + out.Grouping
	}
	return out
}

func String(name, description string, optional bool) Param {
	return Param{Name: name, Kind: KindString, Description: description, Optional: optional}
}

func Long(name, description string, optional bool) Param {
	return Param{Name: name, Kind: KindLong, Description: description, Optional: optional}
}

func Double(name, description string, optional bool) Param {
	return Param{Name: name, Kind: KindDouble, Description: description, Optional: optional}
}

func Bool(name, description string, optional bool) Param {
	return Param{Name: name, Kind: KindBool, Description: description, Optional: optional}
}

func List(name, description string, optional bool) Param {
	return Param{Name: name, Kind: KindList, Description: description, Optional: optional}
}
