package board

import "reflect"

// WillConnecter is notified before the board touches the hardware.
type WillConnecter interface {
	WillConnect(b *Board) error
}

// DidConnecter is notified once the target is initialized.
type DidConnecter interface {
	DidConnect(b *Board) error
}

const (
	hookWillConnect = "will_connect"
	hookDidConnect  = "did_connect"
)

// dispatch invokes hook on the board's delegate if it implements it. A
// missing delegate or hook is not an error.
func (b *Board) dispatch(hook string) error {
	if isNil(b.delegate) {
		return nil
	}
	var err error
	switch hook {
	case hookWillConnect:
		d, ok := b.delegate.(WillConnecter)
		if !ok {
			return nil
		}
		err = d.WillConnect(b)
	case hookDidConnect:
		d, ok := b.delegate.(DidConnecter)
		if !ok {
			return nil
		}
		err = d.DidConnect(b)
	}
	if err != nil {
		return &HookError{Hook: hook, Err: err}
	}
	return nil
}

// isNil reports whether d is nil or a nil pointer, map, func, chan or slice
// held in an interface.
func isNil(d any) bool {
	if d == nil {
		return true
	}
	v := reflect.ValueOf(d)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Func, reflect.Chan, reflect.Slice, reflect.Interface:
		return v.IsNil()
	}
	return false
}
