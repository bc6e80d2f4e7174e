//go:build !linux && !darwin

package health

import "errors"

func statDisk(string) (free, total uint64, err error) {
	return 0, 0, errors.New("disk usage is not available on this platform")
}
