//go:build !linux

package harness

func pinWorker(rank int) error {
	return nil
}
