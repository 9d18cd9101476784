//go:build !unix

package relocate

import (
	"errors"
	"os"
)

// Without EXDEV every rename failure is treated as a reason to copy instead.
func isCrossDevice(err error) bool {
	var le *os.LinkError

	return errors.As(err, &le)
}
