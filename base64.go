package wdx

import "fmt"

// Base64 alphabets. Standard uses '+' and '/'; URL-safe uses '-' and '_'.
const (
	base64StdAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"
	base64URLAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"
	base64Pad         = '='
)

// unencodedMax and encodedMax mirror WC_BASE64_UNENCODED_MAX / WC_BASE64_ENCODED_MAX:
// encode bounds input so 4*(n/3) never overflows; decode bounds the char count
// so the implied byte count never overflows.
const (
	base64UnencodedMax = (^uint(0)) / 4 * 3
	base64EncodedMax   = (^uint(0)) - 3
)

var base64DecodeTable [256]int8

func init() {
	for i := range base64DecodeTable {
		base64DecodeTable[i] = -1
	}
	for i := 0; i < len(base64StdAlphabet); i++ {
		base64DecodeTable[base64StdAlphabet[i]] = int8(i)
	}
	// URL-safe shares 0-61 with standard; only 62/63 differ.
	base64DecodeTable['-'] = 62
	base64DecodeTable['_'] = 63
}

// Base64Encode encodes data using the standard alphabet with '=' padding.
func Base64Encode(data []byte) (string, error) {
	return base64Encode(data, base64StdAlphabet, true)
}

// Base64EncodeURLSafe encodes data using the URL-safe alphabet without padding.
func Base64EncodeURLSafe(data []byte) (string, error) {
	return base64Encode(data, base64URLAlphabet, false)
}

func base64Encode(data []byte, alphabet string, pad bool) (string, error) {
	if uint(len(data)) > base64UnencodedMax {
		return "", fmt.Errorf("wdx: base64 encode input exceeds bound of %d bytes", base64UnencodedMax)
	}
	n := len(data)
	outLen := (n + 2) / 3 * 4
	out := make([]byte, 0, outLen)
	for i := 0; i < n; i += 3 {
		var chunk [3]byte
		remaining := n - i
		if remaining > 3 {
			remaining = 3
		}
		copy(chunk[:remaining], data[i:i+remaining])

		b0 := chunk[0] >> 2
		b1 := (chunk[0]&0x03)<<4 | chunk[1]>>4
		b2 := (chunk[1]&0x0f)<<2 | chunk[2]>>6
		b3 := chunk[2] & 0x3f

		out = append(out, alphabet[b0], alphabet[b1])
		switch remaining {
		case 1:
			if pad {
				out = append(out, base64Pad, base64Pad)
			}
		case 2:
			out = append(out, alphabet[b2])
			if pad {
				out = append(out, base64Pad)
			}
		case 3:
			out = append(out, alphabet[b2], alphabet[b3])
		}
	}
	return string(out), nil
}

// Base64Decode decodes s, tolerating a mix of standard and URL-safe alphabet
// characters, and stopping at the first '=' padding character encountered.
func Base64Decode(s string) ([]byte, error) {
	if uint(len(s)) > base64EncodedMax {
		return nil, fmt.Errorf("wdx: base64 decode input exceeds bound of %d chars", base64EncodedMax)
	}

	out := make([]byte, 0, len(s)/4*3+3)
	var group [4]int8
	groupLen := 0

	flush := func(n int) error {
		if n < 2 {
			return fmt.Errorf("wdx: base64 decode: truncated final group")
		}
		b0 := byte(group[0])<<2 | byte(group[1])>>4
		out = append(out, b0)
		if n >= 3 {
			b1 := byte(group[1])<<4 | byte(group[2])>>2
			out = append(out, b1)
		}
		if n >= 4 {
			b2 := byte(group[2])<<6 | byte(group[3])
			out = append(out, b2)
		}
		return nil
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == base64Pad {
			break
		}
		v := base64DecodeTable[c]
		if v < 0 {
			return nil, fmt.Errorf("wdx: base64 decode: invalid character %q at offset %d", c, i)
		}
		group[groupLen] = v
		groupLen++
		if groupLen == 4 {
			if err := flush(4); err != nil {
				return nil, err
			}
			groupLen = 0
		}
	}
	if groupLen > 0 {
		if err := flush(groupLen); err != nil {
			return nil, err
		}
	}
	return out, nil
}
