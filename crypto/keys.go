package crypto

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"regexp"
	"strings"

	algocrypto "github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/mnemonic"
	"github.com/algorand/go-algorand-sdk/v2/types"
)

// AddressLength is the length of a base32 encoded ledger address.
const AddressLength = 58

var addressPattern = regexp.MustCompile(`^[A-Z0-9]{58}$`)

// ErrInvalidAddress is returned when an address does not match the ledger encoding.
var ErrInvalidAddress = errors.New("crypto: invalid address")

// MatchesAddressFormat reports whether the string has the shape of a ledger
// address: exactly 58 uppercase alphanumeric characters.
func MatchesAddressFormat(addr string) bool {
	return addressPattern.MatchString(addr)
}

// ValidateAddress checks both the textual shape and the embedded checksum.
func ValidateAddress(addr string) error {
	if !MatchesAddressFormat(addr) {
		return ErrInvalidAddress
	}
	if _, err := types.DecodeAddress(addr); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return nil
}

// --- Key Management ---

// Custodian is the service controlled account that funds disbursements.
// The secret key never leaves the process.
type Custodian struct {
	address types.Address
	secret  ed25519.PrivateKey
}

// NewCustodian wraps an ed25519 secret key.
func NewCustodian(sk ed25519.PrivateKey) (*Custodian, error) {
	if len(sk) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("crypto: secret key must be %d bytes", ed25519.PrivateKeySize)
	}
	account, err := algocrypto.AccountFromPrivateKey(sk)
	if err != nil {
		return nil, err
	}
	return &Custodian{address: account.Address, secret: account.PrivateKey}, nil
}

// CustodianFromMnemonic derives the custodial account from a 25 word recovery phrase.
func CustodianFromMnemonic(phrase string) (*Custodian, error) {
	normalised := strings.Join(strings.Fields(phrase), " ")
	if normalised == "" {
		return nil, errors.New("crypto: recovery phrase is empty")
	}
	sk, err := mnemonic.ToPrivateKey(normalised)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode recovery phrase: %w", err)
	}
	return NewCustodian(sk)
}

// GenerateCustodian creates a fresh random account. Used by tooling and tests.
func GenerateCustodian() *Custodian {
	account := algocrypto.GenerateAccount()
	return &Custodian{address: account.Address, secret: account.PrivateKey}
}

// Address returns the base32 address of the custodial account.
func (c *Custodian) Address() string {
	return c.address.String()
}

// SecretKey returns the signing key.
func (c *Custodian) SecretKey() ed25519.PrivateKey {
	return c.secret
}

// Mnemonic renders the recovery phrase for the account.
func (c *Custodian) Mnemonic() (string, error) {
	return mnemonic.FromPrivateKey(c.secret)
}
