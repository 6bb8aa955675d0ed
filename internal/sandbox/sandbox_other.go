//go:build !linux

package sandbox

func apply(Paths) error {
	return ErrUnsupported
}
