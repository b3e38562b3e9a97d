package decoder

import (
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Registry maps contract addresses and log topics to decoder functions and
// counterparty tags to post-decoding rules. It carries a monotonically
// increasing schema version; raw transactions decoded under version V are
// stamped with V (the history events themselves carry no version), and when
// the registry advances, affected transactions are re-decoded.
//
// Decoders register themselves with the registry at startup from a list held
// by the registry owner, so protocol packages never import each other.
type Registry struct {
	mu             sync.RWMutex
	schemaVersion  int
	addressDecoders map[common.Address][]Fn
	topicDecoders   map[common.Hash][]Fn
	postRules       map[string][]postRule
	counterparties  map[string]CounterpartyDetails
	tokens          *TokenRegistry
}

type postRule struct {
	priority int
	fn       PostRuleFn
}

// NewRegistry creates an empty registry at the given schema version.
func NewRegistry(schemaVersion int, tokens *TokenRegistry) *Registry {
	return &Registry{
		schemaVersion:   schemaVersion,
		addressDecoders: make(map[common.Address][]Fn),
		topicDecoders:   make(map[common.Hash][]Fn),
		postRules:       make(map[string][]postRule),
		counterparties:  make(map[string]CounterpartyDetails),
		tokens:          tokens,
	}
}

// SchemaVersion returns the registry's schema version.
func (r *Registry) SchemaVersion() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.schemaVersion
}

// Tokens returns the token registry decoders resolve metadata through.
func (r *Registry) Tokens() *TokenRegistry {
	return r.tokens
}

// RegisterAddressDecoder attaches a decoder to all logs emitted by a
// contract address.
func (r *Registry) RegisterAddressDecoder(address common.Address, fn Fn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addressDecoders[address] = append(r.addressDecoders[address], fn)
}

// RegisterTopicDecoder attaches a decoder to a protocol-wide log signature.
// Topic decoders run for every log carrying that topic, after the
// address-scoped decoders of the emitting contract.
func (r *Registry) RegisterTopicDecoder(topic0 common.Hash, fn Fn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topicDecoders[topic0] = append(r.topicDecoders[topic0], fn)
}

// RegisterPostRule attaches a rule that runs once per transaction after all
// log-level decoders, when a decoder matched the counterparty. Lower
// priorities run first.
func (r *Registry) RegisterPostRule(counterparty string, priority int, fn PostRuleFn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.postRules[counterparty] = append(r.postRules[counterparty], postRule{priority: priority, fn: fn})
	sort.SliceStable(r.postRules[counterparty], func(i, j int) bool {
		return r.postRules[counterparty][i].priority < r.postRules[counterparty][j].priority
	})
}

// RegisterCounterparty records the display details of a protocol tag.
func (r *Registry) RegisterCounterparty(details CounterpartyDetails) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counterparties[details.Identifier] = details
}

// Counterparty returns the display details of a protocol tag.
func (r *Registry) Counterparty(identifier string) (CounterpartyDetails, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	details, ok := r.counterparties[identifier]
	return details, ok
}

// DecodersForLog returns the decoders applicable to a log: the ones scoped to
// the emitting address first, then the topic-wide fallbacks.
func (r *Registry) DecodersForLog(address common.Address, topic0 common.Hash) []Fn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	decoders := make([]Fn, 0, len(r.addressDecoders[address])+len(r.topicDecoders[topic0]))
	decoders = append(decoders, r.addressDecoders[address]...)
	decoders = append(decoders, r.topicDecoders[topic0]...)
	return decoders
}

// PostRulesFor returns the post-decoding rules of the matched counterparties
// in priority order.
func (r *Registry) PostRulesFor(counterparties map[string]struct{}) []PostRuleFn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	identifiers := make([]string, 0, len(counterparties))
	for identifier := range counterparties {
		identifiers = append(identifiers, identifier)
	}
	sort.Strings(identifiers)

	var rules []PostRuleFn
	for _, identifier := range identifiers {
		for _, rule := range r.postRules[identifier] {
			rules = append(rules, rule.fn)
		}
	}
	return rules
}
