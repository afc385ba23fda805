// Package random generates credential material for provisioned clients.
package random

import (
	"crypto/rand"
	"math/big"
)

const alphanum = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// Seq returns a random alphanumeric string of length n. Used for trojan
// and shadowsocks client passwords, so the source must be crypto/rand.
func Seq(n int) string {
	max := big.NewInt(int64(len(alphanum)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("crypto/rand failed: " + err.Error())
		}
		out[i] = alphanum[idx.Int64()]
	}
	return string(out)
}
