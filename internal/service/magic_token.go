package service

import (
	"encoding/base64"
	"strings"
)

var tokenEncodings = []*base64.Encoding{
	base64.RawURLEncoding,
	base64.URLEncoding,
	base64.StdEncoding,
	base64.RawStdEncoding,
}

// EncodeMagicToken packs a credential id and its raw secret into the
// opaque token handed to the user.
func EncodeMagicToken(credentialID, secret string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(credentialID + ":" + secret))
}

// DecodeMagicToken accepts padded and standard base64 as well, since links
// pass through mail clients that rewrite them.
func DecodeMagicToken(token string) (credentialID, secret string, err error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", "", ErrMalformed
	}

	for _, enc := range tokenEncodings {
		raw, decodeErr := enc.DecodeString(token)
		if decodeErr != nil {
			continue
		}
		id, sec, ok := strings.Cut(string(raw), ":")
		if !ok || id == "" || sec == "" {
			return "", "", ErrMalformed
		}
		return id, sec, nil
	}
	return "", "", ErrMalformed
}
