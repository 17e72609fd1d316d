// Package layering merges and clones setting values resolved across profile
// layers.
package layering

import "reflect"

// MergeLayers deep-merges layers ordered strongest first. Maps merge key by
// key and structs field by field. A nil pointer, map, slice or interface in
// a stronger layer lets the weaker value through; any other value replaces
// what lies beneath it. The result shares no memory with the inputs.
func MergeLayers[T any](layers ...T) T {
	var merged reflect.Value
	for i := len(layers) - 1; i >= 0; i-- {
		merged = overlay(reflect.ValueOf(layers[i]), merged)
	}
	var out T
	if merged.IsValid() {
		reflect.ValueOf(&out).Elem().Set(fit(merged, reflect.TypeFor[T]()))
	}
	return out
}

// Concat joins slice layers strongest first into a slice of the first slice
// layer's type. Layers that are not slices, and elements that cannot be
// converted, are skipped. The result is nil when no layer is a slice.
func Concat(layers ...any) any {
	var out reflect.Value
	for _, layer := range layers {
		v := reflect.ValueOf(layer)
		if v.Kind() != reflect.Slice {
			continue
		}
		if !out.IsValid() {
			out = reflect.MakeSlice(reflect.SliceOf(v.Type().Elem()), 0, v.Len())
		}
		elemType := out.Type().Elem()
		for i := range v.Len() {
			elem := deepCopy(v.Index(i))
			switch {
			case elem.Type().AssignableTo(elemType):
			case elem.Type().ConvertibleTo(elemType):
				elem = elem.Convert(elemType)
			default:
				continue
			}
			out = reflect.Append(out, elem)
		}
	}
	if !out.IsValid() {
		return nil
	}
	return out.Interface()
}

// overlay lays top over base and returns a fresh value.
func overlay(top, base reflect.Value) reflect.Value {
	if !top.IsValid() {
		return deepCopy(base)
	}
	typ := top.Type()
	switch top.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		if top.IsNil() {
			return fit(deepCopy(base), typ)
		}
	}

	switch top.Kind() {
	case reflect.Pointer:
		var below reflect.Value
		if base.IsValid() && base.Type() == typ && !base.IsNil() {
			below = base.Elem()
		}
		out := reflect.New(typ.Elem())
		out.Elem().Set(fit(overlay(top.Elem(), below), typ.Elem()))
		return out
	case reflect.Interface:
		return fit(overlay(top.Elem(), unwrap(base)), typ)
	case reflect.Map:
		out := reflect.MakeMapWithSize(typ, top.Len())
		if base = unwrap(base); base.Kind() == reflect.Map &&
			base.Type().Key().AssignableTo(typ.Key()) &&
			base.Type().Elem().AssignableTo(typ.Elem()) {
			for iter := base.MapRange(); iter.Next(); {
				out.SetMapIndex(iter.Key(), deepCopy(iter.Value()))
			}
		}
		for iter := top.MapRange(); iter.Next(); {
			key := iter.Key()
			out.SetMapIndex(key, fit(overlay(iter.Value(), out.MapIndex(key)), typ.Elem()))
		}
		return out
	case reflect.Struct:
		out := reflect.New(typ).Elem()
		sameType := base.IsValid() && base.Type() == typ
		for i := range typ.NumField() {
			field := out.Field(i)
			if !field.CanSet() {
				continue
			}
			var below reflect.Value
			if sameType {
				below = base.Field(i)
			}
			field.Set(fit(overlay(top.Field(i), below), field.Type()))
		}
		return out
	case reflect.Array:
		out := reflect.New(typ).Elem()
		for i := range top.Len() {
			var below reflect.Value
			if base.IsValid() && base.Kind() == reflect.Array && base.Len() > i {
				below = base.Index(i)
			}
			out.Index(i).Set(fit(overlay(top.Index(i), below), typ.Elem()))
		}
		return out
	default:
		// Scalars and non-nil slices replace the weaker value.
		return deepCopy(top)
	}
}

// unwrap returns the dynamic value held by an interface.
func unwrap(v reflect.Value) reflect.Value {
	if v.IsValid() && v.Kind() == reflect.Interface && !v.IsNil() {
		return v.Elem()
	}
	return v
}

// fit returns v as a value of typ, or the zero typ when v cannot be assigned.
func fit(v reflect.Value, typ reflect.Type) reflect.Value {
	if !v.IsValid() || !v.Type().AssignableTo(typ) {
		return reflect.Zero(typ)
	}
	return v
}
