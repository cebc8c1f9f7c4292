package walletauth

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/hashport-labs/apikey-gateway/interfaces"
)

// RecoverEVMAddress recovers the lower-cased signer address from a
// personal-sign (EIP-191) signature over message. The signature is 65 bytes
// hex with or without the 0x prefix; a recovery id of 27/28 is normalized.
func RecoverEVMAddress(message string, signature string) (string, error) {
	if !strings.HasPrefix(signature, "0x") {
		signature = "0x" + signature
	}
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return "", fmt.Errorf("%w: %v", interfaces.ErrSignatureMismatch, err)
	}
	if len(sig) != crypto.SignatureLength {
		return "", fmt.Errorf("%w: signature must be %d bytes, got %d",
			interfaces.ErrSignatureMismatch, crypto.SignatureLength, len(sig))
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig = append([]byte(nil), sig...)
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return "", fmt.Errorf("%w: %v", interfaces.ErrSignatureMismatch, err)
	}
	return strings.ToLower(crypto.PubkeyToAddress(*pub).Hex()), nil
}

// verifyWalletSignature checks that signature over message was produced by
// the wallet identified by (kind, normalized accountID).
func verifyWalletSignature(kind interfaces.WalletKind, accountID, message, signature string) error {
	switch kind {
	case interfaces.WalletEVM:
		recovered, err := RecoverEVMAddress(message, signature)
		if err != nil {
			return err
		}
		if recovered != accountID {
			return interfaces.ErrSignatureMismatch
		}
		return nil
	case interfaces.WalletHedera:
		return interfaces.ErrHederaNotImplemented
	default:
		return fmt.Errorf("%w: unknown wallet kind %q", interfaces.ErrInvalidWalletFormat, kind)
	}
}
