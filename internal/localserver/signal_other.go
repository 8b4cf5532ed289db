//go:build !unix

package localserver

func signalZero(_ int, cause error) (bool, error) {
	return false, cause
}
