package walletauth

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hashport-labs/apikey-gateway/interfaces"
)

var (
	evmAddressRe    = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	hederaAccountRe = regexp.MustCompile(`^\d+\.\d+\.\d+$`)
)

// NormalizeWallet canonicalizes a wallet account id for storage and
// comparison. EVM addresses are lower-cased; Hedera shard.realm.num ids are
// preserved as given.
func NormalizeWallet(kind interfaces.WalletKind, accountID string) (string, error) {
	switch kind {
	case interfaces.WalletEVM:
		if !evmAddressRe.MatchString(accountID) {
			return "", fmt.Errorf("%w: not an EVM address", interfaces.ErrInvalidWalletFormat)
		}
		return strings.ToLower(accountID), nil
	case interfaces.WalletHedera:
		if !hederaAccountRe.MatchString(accountID) {
			return "", fmt.Errorf("%w: not a Hedera account id", interfaces.ErrInvalidWalletFormat)
		}
		return accountID, nil
	default:
		return "", fmt.Errorf("%w: unknown wallet kind %q", interfaces.ErrInvalidWalletFormat, kind)
	}
}

// DetectWalletKind classifies a raw account id by shape.
func DetectWalletKind(accountID string) (interfaces.WalletKind, error) {
	switch {
	case evmAddressRe.MatchString(accountID):
		return interfaces.WalletEVM, nil
	case hederaAccountRe.MatchString(accountID):
		return interfaces.WalletHedera, nil
	default:
		return "", fmt.Errorf("%w: %q matches neither EVM nor Hedera", interfaces.ErrInvalidWalletFormat, accountID)
	}
}
