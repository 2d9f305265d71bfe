package crypto

import "encoding/base64"

// strictB64 rejects non-canonical padding bits so a sealed field has exactly
// one accepted encoding.
var strictB64 = base64.StdEncoding.Strict()

// B64 encodes b as padded standard base64.
func B64(b []byte) string { return strictB64.EncodeToString(b) }

// UnB64 decodes padded standard base64, rejecting non-canonical input.
func UnB64(s string) ([]byte, error) { return strictB64.DecodeString(s) }
