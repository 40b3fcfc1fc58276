package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"strconv"
)

// signer produces the request signature required by every authenticated
// endpoint: HMAC-SHA512 over path + SHA256(nonce + url-encoded body),
// using the account's base64-decoded API secret.
type signer struct {
	secret []byte
}

// newSigner decodes the base64 API secret once at client construction.
func newSigner(apiSecretBase64 string) (*signer, error) {
	secret, err := base64.StdEncoding.DecodeString(apiSecretBase64)
	if err != nil {
		return nil, fmt.Errorf("exchange: invalid api secret: %w", err)
	}
	return &signer{secret: secret}, nil
}

// sign computes the request signature for path, given the request's
// url-encoded body and the nonce placed in that body. Callers are
// responsible for formatting body so that it includes "nonce=<nonce>"
// in the same form submitted to the exchange.
func (s *signer) sign(path string, nonce int64, urlEncodedBody string) string {
	nonceAndBody := strconv.FormatInt(nonce, 10) + urlEncodedBody
	shaSum := sha256.Sum256([]byte(nonceAndBody))

	mac := hmac.New(sha512.New, s.secret)
	mac.Write([]byte(path))
	mac.Write(shaSum[:])

	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
