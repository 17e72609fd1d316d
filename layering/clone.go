package layering

import "reflect"

// Clone returns a deep copy of value. JSON-shaped values, which is what
// providers store, are copied directly. Anything else goes through
// reflection: maps, slices, pointers and exported struct fields are copied
// and unexported struct fields are left zero.
func Clone[T any](value T) T {
	out, _ := cloneAny(value).(T)
	return out
}

func cloneAny(value any) any {
	switch typed := value.(type) {
	case nil:
		return nil
	case string, bool, float64:
		return typed
	case map[string]any:
		if typed == nil {
			return typed
		}
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			out[key] = cloneAny(item)
		}
		return out
	case []any:
		if typed == nil {
			return typed
		}
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = cloneAny(item)
		}
		return out
	}
	return deepCopy(reflect.ValueOf(value)).Interface()
}

func deepCopy(v reflect.Value) reflect.Value {
	if !v.IsValid() {
		return v
	}
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
	}

	switch v.Kind() {
	case reflect.Pointer:
		out := reflect.New(v.Type().Elem())
		out.Elem().Set(deepCopy(v.Elem()))
		return out
	case reflect.Interface:
		return deepCopy(v.Elem()).Convert(v.Type())
	case reflect.Map:
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		for iter := v.MapRange(); iter.Next(); {
			out.SetMapIndex(iter.Key(), deepCopy(iter.Value()))
		}
		return out
	case reflect.Slice:
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := range v.Len() {
			out.Index(i).Set(deepCopy(v.Index(i)))
		}
		return out
	case reflect.Array:
		out := reflect.New(v.Type()).Elem()
		for i := range v.Len() {
			out.Index(i).Set(deepCopy(v.Index(i)))
		}
		return out
	case reflect.Struct:
		out := reflect.New(v.Type()).Elem()
		for i := range v.NumField() {
			if field := out.Field(i); field.CanSet() {
				field.Set(deepCopy(v.Field(i)))
			}
		}
		return out
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return v
	default:
		if !v.CanInterface() {
			return reflect.Zero(v.Type())
		}
		return reflect.ValueOf(v.Interface())
	}
}
