package jwtx

// Signer mints signed access tokens.
type Signer interface {
	Alg() string
	KID() string
	Sign(Claims) (string, error)
}

// NewSignerEdDSA loads a PKCS8 PEM Ed25519 private key.
func NewSignerEdDSA(kid string, pemKey []byte) (*EdDSASigner, error) {
	return newEdDSASigner(kid, pemKey)
}
