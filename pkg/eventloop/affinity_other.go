//go:build !linux

package eventloop

func pinThread(int) error {
	return nil
}
