package stdio

import "encoding/hex"

func hexBytes(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	return hex.DecodeString(s)
}

func hexString(b []byte) string {
	if b == nil {
		return ""
	}
	return hex.EncodeToString(b)
}
