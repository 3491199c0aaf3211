//go:build !linux

package serial

func FindModemPortName() (string, error) {
	// no-op for other OSes
	return "", NoModemFound
}
