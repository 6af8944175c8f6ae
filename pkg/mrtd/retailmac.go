package mrtd

import (
	"crypto/des"
	"fmt"
)

// RetailMAC computes the ISO 9797-1 Algorithm 3 MAC: single-DES CBC
// under the first key half with a zero IV, then a decrypt/re-encrypt of
// the final block under the second and first halves. The message is
// padded with Method 2 before chaining. Output is 8 bytes; verification
// is exact byte equality.
func RetailMAC(key, msg []byte) ([]byte, error) {
	if len(key) != 16 {
		return nil, fmt.Errorf("retail MAC key must be 16 bytes, got %d", len(key))
	}
	ka, err := des.NewCipher(key[:8])
	if err != nil {
		return nil, err
	}
	kb, err := des.NewCipher(key[8:16])
	if err != nil {
		return nil, err
	}

	padded := padISO9797M2(msg, 8)
	mac := make([]byte, 8)
	for i := 0; i < len(padded); i += 8 {
		for j := 0; j < 8; j++ {
			mac[j] ^= padded[i+j]
		}
		ka.Encrypt(mac, mac)
	}
	kb.Decrypt(mac, mac)
	ka.Encrypt(mac, mac)
	return mac, nil
}
