package decoder

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/folionet/foliod/chain"
	"github.com/folionet/foliod/chain/evm"
)

// TokenRegistry resolves token contract addresses to metadata. Tokens not
// registered ahead of time are auto-created with placeholder metadata so
// transfers of unknown tokens still decode.
type TokenRegistry struct {
	mu     sync.RWMutex
	chain  chain.Chain
	tokens map[common.Address]evm.Token
}

// NewTokenRegistry creates a registry for one chain.
func NewTokenRegistry(c chain.Chain) *TokenRegistry {
	return &TokenRegistry{
		chain:  c,
		tokens: make(map[common.Address]evm.Token),
	}
}

// Register stores the metadata of a known token.
func (r *TokenRegistry) Register(token evm.Token) {
	r.mu.Lock()
	defer r.mu.Unlock()
	token.Identifier = evm.AssetIdentifier(r.chain, token.Address)
	r.tokens[token.Address] = token
}

// GetOrCreate returns the metadata of a token, auto-creating a placeholder
// with 18 decimals when the token is unknown.
func (r *TokenRegistry) GetOrCreate(address common.Address) evm.Token {
	r.mu.RLock()
	token, ok := r.tokens[address]
	r.mu.RUnlock()
	if ok {
		return token
	}

	token = evm.Token{
		Address:    address,
		Identifier: evm.AssetIdentifier(r.chain, address),
		Symbol:     fmt.Sprintf("TOKEN-%s", address.Hex()[2:8]),
		Decimals:   18,
	}
	r.mu.Lock()
	r.tokens[address] = token
	r.mu.Unlock()
	return token
}
