package bitcoincash

import (
	"strings"
	"sync"

	"github.com/gcash/bchd/chaincfg"
	"github.com/gcash/bchutil"
	"github.com/pkg/errors"
)

// CashAddrPrefix is the mainnet CashAddr human readable prefix.
const CashAddrPrefix = "bitcoincash"

// Canonicalize converts any valid Bitcoin Cash address form (legacy base58,
// CashAddr with or without prefix) into the prefixed CashAddr form used
// internally. The returned second value is the input itself, kept as the
// display form.
func Canonicalize(address string) (canonical string, display string, err error) {
	decoded, err := bchutil.DecodeAddress(address, &chaincfg.MainNetParams)
	if err != nil {
		return "", "", errors.Wrapf(err, "invalid bitcoin cash address %q", address)
	}

	switch addr := decoded.(type) {
	case *bchutil.AddressPubKeyHash, *bchutil.AddressScriptHash:
		return withPrefix(decoded.EncodeAddress()), address, nil
	case *bchutil.LegacyAddressPubKeyHash:
		converted, err := bchutil.NewAddressPubKeyHash(addr.Hash160()[:], &chaincfg.MainNetParams)
		if err != nil {
			return "", "", errors.Wrap(err, "converting legacy address")
		}
		return withPrefix(converted.EncodeAddress()), address, nil
	case *bchutil.LegacyAddressScriptHash:
		converted, err := bchutil.NewAddressScriptHashFromHash(addr.Hash160()[:], &chaincfg.MainNetParams)
		if err != nil {
			return "", "", errors.Wrap(err, "converting legacy script hash address")
		}
		return withPrefix(converted.EncodeAddress()), address, nil
	}
	return "", "", errors.Errorf("unsupported bitcoin cash address type %T", decoded)
}

// MatchesCanonical reports whether an address string returned by a provider
// refers to the given canonical address. Providers may answer with or without
// the cashaddr: prefix.
func MatchesCanonical(fromAPI string, canonical string) bool {
	return withPrefix(fromAPI) == canonical
}

func withPrefix(address string) string {
	if strings.Contains(address, ":") {
		return address
	}
	return CashAddrPrefix + ":" + address
}

// AddressBook maps the canonical CashAddr form of each tracked address back
// to the form the user originally entered, so events echo addresses the way
// they were added.
type AddressBook struct {
	mu        sync.RWMutex
	displayOf map[string]string
}

// NewAddressBook returns an empty address book.
func NewAddressBook() *AddressBook {
	return &AddressBook{displayOf: make(map[string]string)}
}

// Track canonicalizes the given user-entered address, remembers its display
// form, and returns the canonical form.
func (b *AddressBook) Track(address string) (string, error) {
	canonical, display, err := Canonicalize(address)
	if err != nil {
		return "", err
	}
	b.mu.Lock()
	b.displayOf[canonical] = display
	b.mu.Unlock()
	return canonical, nil
}

// Untrack forgets the display form of the given canonical address.
func (b *AddressBook) Untrack(canonical string) {
	b.mu.Lock()
	delete(b.displayOf, canonical)
	b.mu.Unlock()
}

// Display returns the form the user originally entered for a canonical
// address, or the canonical form itself when unknown.
func (b *AddressBook) Display(canonical string) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if display, ok := b.displayOf[canonical]; ok {
		return display
	}
	return canonical
}
