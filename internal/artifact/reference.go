package artifact

import (
	"fmt"
	"reflect"
)

// RefKind discriminates the shapes a name-like artifact token can take.
type RefKind int

const (
	RefNone RefKind = iota
	RefString
	RefList
	RefMapping
	RefObject
)

func (k RefKind) String() string {
	switch k {
	case RefString:
		return "string"
	case RefList:
		return "list"
	case RefMapping:
		return "mapping"
	case RefObject:
		return "object"
	default:
		return "none"
	}
}

// Attributer is an arbitrary host object exposing conventional attributes
// such as ckpt_name or lora_name.
type Attributer interface {
	Attr(name string) (any, bool)
}

// ConventionalKeys are checked, in order, on mappings and objects.
var ConventionalKeys = []string{
	"ckpt_name",
	"lora_name",
	"vae_name",
	"unet_name",
	"clip_name",
	"model_name",
	"name",
	"filename",
	"path",
	"model_path",
}

// Reference is the classified form of a token. Exactly one payload field is
// meaningful, selected by Kind.
type Reference struct {
	Kind   RefKind
	Str    string
	Items  []any
	Fields map[string]any
	Object Attributer

	// identity is a container's address, used to break self-referential cycles.
	// Zero for strings and for containers without a stable address.
	identity uintptr
}

// Classify converts an arbitrary value into a Reference.
func Classify(v any) Reference {
	switch t := v.(type) {
	case nil:
		return Reference{Kind: RefNone}
	case Reference:
		return t
	case string:
		return Reference{Kind: RefString, Str: t}
	case []any:
		return Reference{Kind: RefList, Items: t, identity: addressOf(t)}
	case []string:
		items := make([]any, len(t))
		for i, s := range t {
			items[i] = s
		}
		return Reference{Kind: RefList, Items: items, identity: addressOf(t)}
	case map[string]any:
		return Reference{Kind: RefMapping, Fields: t, identity: addressOf(t)}
	case Attributer:
		return Reference{Kind: RefObject, Object: t, identity: addressOf(t)}
	case fmt.Stringer:
		return Reference{Kind: RefString, Str: t.String()}
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return Reference{Kind: RefList, Items: items, identity: addressOf(v)}
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return Reference{Kind: RefNone}
		}
		fields := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			fields[iter.Key().String()] = iter.Value().Interface()
		}
		return Reference{Kind: RefMapping, Fields: fields, identity: addressOf(v)}
	}
	return Reference{Kind: RefNone}
}

// Lookup returns the value stored under key for mappings and objects.
func (r Reference) Lookup(key string) (any, bool) {
	switch r.Kind {
	case RefMapping:
		v, ok := r.Fields[key]
		return v, ok
	case RefObject:
		return r.Object.Attr(key)
	}
	return nil, false
}

func addressOf(v any) uintptr {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Pointer, reflect.Slice:
		return rv.Pointer()
	}
	return 0
}
