package auth

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/sha3"
)

// Key algorithms accepted for key login.
const (
	AlgEd25519   = "ed25519"
	AlgSecp256k1 = "secp256k1"
	AlgRSAPSS    = "rsa-pss"
	AlgRSASHA256 = "rsa-sha256"
)

var ErrBadSignature = errors.New("bad signature")

type verifier func(publicKey, message, signature string) error

var verifiers = map[string]verifier{
	AlgEd25519:   verifyEd25519,
	AlgSecp256k1: verifySecp256k1,
	AlgRSAPSS:    verifyRSA(true),
	AlgRSASHA256: verifyRSA(false),
}

// NormalizeAlg lowercases alg and reports whether it is supported.
func NormalizeAlg(alg string) (string, bool) {
	alg = strings.ToLower(strings.TrimSpace(alg))
	_, ok := verifiers[alg]
	return alg, ok
}

// VerifySignature checks that signature is a valid signature of message by
// publicKey. Ed25519 and RSA values may be base64 or hex; secp256k1 values are
// hex and the message is signed as an Ethereum personal message.
func VerifySignature(alg, publicKey, message, signature string) error {
	alg, ok := NormalizeAlg(alg)
	if !ok {
		return fmt.Errorf("unsupported alg: %s", alg)
	}
	return verifiers[alg](publicKey, message, signature)
}

func verifyEd25519(pub, message, sig string) error {
	pubBytes, err := decodeBase64OrHex(pub)
	if err != nil {
		return err
	}
	sigBytes, err := decodeBase64OrHex(sig)
	if err != nil {
		return err
	}
	if len(pubBytes) != ed25519.PublicKeySize {
		return errors.New("invalid ed25519 public key length")
	}
	if len(sigBytes) != ed25519.SignatureSize {
		return errors.New("invalid ed25519 signature length")
	}
	if !ed25519.Verify(ed25519.PublicKey(pubBytes), []byte(message), sigBytes) {
		return fmt.Errorf("ed25519: %w", ErrBadSignature)
	}
	return nil
}

func verifySecp256k1(pub, message, sig string) error {
	pubBytes, err := decodeHex(pub)
	if err != nil {
		return err
	}
	sigBytes, err := decodeHex(sig)
	if err != nil {
		return err
	}
	pubKey, err := secp256k1.ParsePubKey(pubBytes)
	if err != nil {
		return err
	}
	// Accept r||s and r||s||v.
	if len(sigBytes) != 64 && len(sigBytes) != 65 {
		return errors.New("invalid secp256k1 signature length")
	}
	var r, s secp256k1.ModNScalar
	if overflow := r.SetByteSlice(sigBytes[:32]); overflow {
		return errors.New("invalid secp256k1 signature r")
	}
	if overflow := s.SetByteSlice(sigBytes[32:64]); overflow {
		return errors.New("invalid secp256k1 signature s")
	}
	if !ecdsa.NewSignature(&r, &s).Verify(ethereumPersonalHash([]byte(message)), pubKey) {
		return fmt.Errorf("secp256k1: %w", ErrBadSignature)
	}
	return nil
}

func verifyRSA(pss bool) verifier {
	return func(pub, message, sig string) error {
		pubKey, err := parseRSAPublicKey(pub)
		if err != nil {
			return err
		}
		sigBytes, err := decodeBase64OrHex(sig)
		if err != nil {
			return err
		}
		h := sha256.Sum256([]byte(message))
		if pss {
			err = rsa.VerifyPSS(pubKey, crypto.SHA256, h[:], sigBytes, nil)
		} else {
			err = rsa.VerifyPKCS1v15(pubKey, crypto.SHA256, h[:], sigBytes)
		}
		if err != nil {
			return fmt.Errorf("rsa: %w", ErrBadSignature)
		}
		return nil
	}
}

// parseRSAPublicKey accepts PEM (PKIX or PKCS#1) or base64/hex DER (PKIX).
func parseRSAPublicKey(pub string) (*rsa.PublicKey, error) {
	pub = strings.TrimSpace(pub)
	der := []byte(nil)
	if strings.HasPrefix(pub, "-----BEGIN") {
		block, _ := pem.Decode([]byte(pub))
		if block == nil {
			return nil, errors.New("invalid pem public key")
		}
		if pk, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
			return pk, nil
		}
		der = block.Bytes
	} else {
		b, err := decodeBase64OrHex(pub)
		if err != nil {
			return nil, err
		}
		der = b
	}
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, err
	}
	pk, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("unsupported rsa public key")
	}
	return pk, nil
}

func decodeBase64OrHex(input string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(input); err == nil {
		return b, nil
	}
	if b, err := base64.RawStdEncoding.DecodeString(input); err == nil {
		return b, nil
	}
	return decodeHex(input)
}

func decodeHex(input string) ([]byte, error) {
	clean := strings.TrimPrefix(strings.TrimSpace(input), "0x")
	return hex.DecodeString(clean)
}

func ethereumPersonalHash(msg []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(msg))
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(prefix))
	h.Write(msg)
	return h.Sum(nil)
}
