package utils

import (
	"crypto/md5"
	"fmt"
)

// Hash returns the hex md5 digest of input. Used for embedding cache keys and
// deterministic chunk identifiers, not for anything security sensitive.
func Hash(input string) string {
	sum := md5.Sum([]byte(input))
	return fmt.Sprintf("%x", sum)
}
