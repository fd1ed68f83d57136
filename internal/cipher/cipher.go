// Package cipher implements the rotating additive stream cipher used by
// channels. It is not a vetted algorithm; its only job is to make every
// frame depend on a key that is replaced after each exchange.
package cipher

// Encrypt adds key[(start+i) mod len(key)] to each byte of data, modulo 256.
// It returns nil when data or key is empty.
func Encrypt(data, key []byte, start int) []byte {
	return apply(data, key, start, 1)
}

// Decrypt reverses Encrypt for the same key and start offset.
func Decrypt(data, key []byte, start int) []byte {
	return apply(data, key, start, -1)
}

// EncryptInPlace is Encrypt without the allocation. It reports false when
// either input is empty.
func EncryptInPlace(data, key []byte, start int) bool {
	return applyTo(data, data, key, start, 1)
}

func DecryptInPlace(data, key []byte, start int) bool {
	return applyTo(data, data, key, start, -1)
}

func apply(data, key []byte, start, sign int) []byte {
	if len(data) == 0 || len(key) == 0 {
		return nil
	}
	out := make([]byte, len(data))
	applyTo(out, data, key, start, sign)
	return out
}

func applyTo(dst, src, key []byte, start, sign int) bool {
	if len(src) == 0 || len(key) == 0 {
		return false
	}
	k := start % len(key)
	if k < 0 {
		k += len(key)
	}
	for i, b := range src {
		if sign > 0 {
			dst[i] = b + key[k]
		} else {
			dst[i] = b - key[k]
		}
		k++
		if k == len(key) {
			k = 0
		}
	}
	return true
}
