package normalizer

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/folionet/foliod/chain"
	"github.com/folionet/foliod/chain/evm"
	"github.com/folionet/foliod/decoder"
	"github.com/folionet/foliod/decoder/balancerv2"
	"github.com/folionet/foliod/decoder/balancerv3"
	"github.com/folionet/foliod/decoder/curvegauge"
	"github.com/folionet/foliod/events"
)

var (
	userAddress  = common.HexToAddress("0x9531C059098e3d194fF87FebB587aB07B30B1306")
	otherAddress = common.HexToAddress("0x7716a99194d758c8537F056825b75Dd0C8FDD89f")
	tokenA       = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	tokenB       = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	poolToken    = common.HexToAddress("0xb08197C9561516AA2E9ED0E4a8E3593D3CbeC39e")
	gaugeAddr    = common.HexToAddress("0xd8b712d29381748dB89c36BCa0138d7c75866ddF")
	crvToken     = common.HexToAddress("0xD533a949740bb3306d119CC777fa900bA034cd52")
)

func transferLog(token, from, to common.Address, amount *big.Int, index uint) evm.Log {
	return evm.Log{
		Address: token,
		Topics: []common.Hash{
			evm.TransferTopic,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data:     common.LeftPadBytes(amount.Bytes(), 32),
		LogIndex: index,
	}
}

func testTx(logs ...evm.Log) *evm.Transaction {
	to := otherAddress
	return &evm.Transaction{
		Chain:             chain.Ethereum,
		TxHash:            common.HexToHash("0x4e731041f9d96fd9a2a9175f4eab07cd5b2b966e375bec95f2734ec03d47e54e"),
		BlockNumber:       21000000,
		Timestamp:         1730000000000,
		From:              userAddress,
		To:                &to,
		Value:             big.NewInt(0),
		GasUsed:           210000,
		EffectiveGasPrice: big.NewInt(10000000000), // 10 gwei
		Success:           true,
		Logs:              logs,
	}
}

func trackedEvm(addresses ...common.Address) func(common.Address) bool {
	set := make(map[common.Address]struct{}, len(addresses))
	for _, address := range addresses {
		set[address] = struct{}{}
	}
	return func(address common.Address) bool {
		_, ok := set[address]
		return ok
	}
}

func newRegistry(t *testing.T) *decoder.Registry {
	t.Helper()
	tokens := decoder.NewTokenRegistry(chain.Ethereum)
	tokens.Register(evm.Token{Address: tokenA, Symbol: "DAI", Decimals: 18})
	tokens.Register(evm.Token{Address: tokenB, Symbol: "USDC", Decimals: 18})
	tokens.Register(evm.Token{Address: poolToken, Symbol: "BPT", Decimals: 18})
	return decoder.NewRegistry(1, tokens)
}

func amount18(value int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(value), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func TestGasFeeUniqueness(t *testing.T) {
	registry := newRegistry(t)
	normalizer := NewEvmNormalizer(chain.Ethereum, registry, nil)
	tx := testTx(
		transferLog(tokenA, userAddress, otherAddress, amount18(5), 0),
		transferLog(tokenB, otherAddress, userAddress, amount18(3), 1),
	)

	decoded, err := normalizer.NormalizeTransaction(tx, trackedEvm(userAddress))
	require.NoError(t, err)

	feeEvents := 0
	for _, event := range decoded {
		if event.EventType == events.TypeSpend && event.EventSubtype == events.SubtypeFee {
			feeEvents++
			require.Equal(t, "ETH", event.Asset)
			require.Equal(t, uint64(0), event.SequenceIndex)
			require.Equal(t, "0.0021", event.Amount.String())
		}
	}
	require.Equal(t, 1, feeEvents, "expected exactly one gas fee event")
}

func TestFailedTxOnlyCostsGas(t *testing.T) {
	registry := newRegistry(t)
	normalizer := NewEvmNormalizer(chain.Ethereum, registry, nil)
	tx := testTx(transferLog(tokenA, userAddress, otherAddress, amount18(5), 0))
	tx.Success = false

	decoded, err := normalizer.NormalizeTransaction(tx, trackedEvm(userAddress))
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	require.Equal(t, events.SubtypeFee, decoded[0].EventSubtype)
}

func TestSequenceIndexesAreDense(t *testing.T) {
	registry := newRegistry(t)
	normalizer := NewEvmNormalizer(chain.Ethereum, registry, nil)
	tx := testTx(
		transferLog(tokenA, userAddress, otherAddress, amount18(5), 0),
		transferLog(tokenB, otherAddress, userAddress, amount18(3), 2),
		transferLog(tokenA, otherAddress, userAddress, amount18(1), 7),
	)

	decoded, err := normalizer.NormalizeTransaction(tx, trackedEvm(userAddress))
	require.NoError(t, err)
	for i, event := range decoded {
		require.Equal(t, uint64(i), event.SequenceIndex)
	}
}

func TestBalancerV2Swap(t *testing.T) {
	registry := newRegistry(t)
	balancerv2.Register(registry, chain.Ethereum, common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"))
	normalizer := NewEvmNormalizer(chain.Ethereum, registry, nil)

	swapTopic := common.BytesToHash(crypto.Keccak256(
		[]byte("Swap(bytes32,address,address,uint256,uint256)")))
	swapData := append(
		common.LeftPadBytes(amount18(5).Bytes(), 32),
		common.LeftPadBytes(amount18(3).Bytes(), 32)...)
	poolID := common.HexToHash("0x32296969ef14eb0c6d29669c550d4a0449130230000200000000000000000080")

	tx := testTx(
		evm.Log{
			Address: balancerv2.VaultAddress,
			Topics: []common.Hash{
				swapTopic,
				poolID,
				common.BytesToHash(tokenA.Bytes()),
				common.BytesToHash(tokenB.Bytes()),
			},
			Data:     swapData,
			LogIndex: 0,
		},
		transferLog(tokenA, userAddress, balancerv2.VaultAddress, amount18(5), 1),
		transferLog(tokenB, balancerv2.VaultAddress, userAddress, amount18(3), 2),
	)

	decoded, err := normalizer.NormalizeTransaction(tx, trackedEvm(userAddress))
	require.NoError(t, err)
	require.Len(t, decoded, 3)

	require.Equal(t, events.SubtypeFee, decoded[0].EventSubtype)
	require.Equal(t, events.TypeTrade, decoded[1].EventType)
	require.Equal(t, events.SubtypeSpend, decoded[1].EventSubtype)
	require.Equal(t, balancerv2.Counterparty, decoded[1].Counterparty)
	require.Equal(t, "Swap 5 DAI via Balancer v2", decoded[1].Notes)
	require.Equal(t, events.TypeTrade, decoded[2].EventType)
	require.Equal(t, events.SubtypeReceive, decoded[2].EventSubtype)
	require.Less(t, decoded[1].SequenceIndex, decoded[2].SequenceIndex,
		"the swap spend must precede the receive")
}

func packLiquidityData(t *testing.T, totalSupply *big.Int, amounts []*big.Int) []byte {
	t.Helper()
	uint256Type, err := abi.NewType("uint256", "", nil)
	require.NoError(t, err)
	uint256ArrayType, err := abi.NewType("uint256[]", "", nil)
	require.NoError(t, err)
	arguments := abi.Arguments{
		{Type: uint256Type}, {Type: uint256ArrayType}, {Type: uint256ArrayType},
	}
	fees := make([]*big.Int, len(amounts))
	for i := range fees {
		fees[i] = big.NewInt(0)
	}
	packed, err := arguments.Pack(totalSupply, amounts, fees)
	require.NoError(t, err)
	return packed
}

func TestBalancerV3AddLiquidity(t *testing.T) {
	registry := newRegistry(t)
	registry.Tokens().Register(evm.Token{Address: tokenA, Symbol: "RZR", Decimals: 18})
	balancerv3.Register(registry, chain.Ethereum, func(pool common.Address) []common.Address {
		require.Equal(t, poolToken, pool)
		return []common.Address{tokenA}
	})
	normalizer := NewEvmNormalizer(chain.Ethereum, registry, nil)

	liquidityAddedTopic := common.BytesToHash(crypto.Keccak256(
		[]byte("LiquidityAdded(address,address,uint8,uint256,uint256[],uint256[])")))

	tx := testTx(
		transferLog(poolToken, evm.ZeroAddress, userAddress, amount18(7), 0),
		evm.Log{
			Address: balancerv3.VaultAddress,
			Topics: []common.Hash{
				liquidityAddedTopic,
				common.BytesToHash(poolToken.Bytes()),
				common.BytesToHash(userAddress.Bytes()),
				common.BytesToHash(big.NewInt(0).Bytes()),
			},
			Data:     packLiquidityData(t, amount18(7), []*big.Int{amount18(100)}),
			LogIndex: 1,
		},
		transferLog(tokenA, userAddress, balancerv3.VaultAddress, amount18(100), 2),
	)

	decoded, err := normalizer.NormalizeTransaction(tx, trackedEvm(userAddress))
	require.NoError(t, err)
	require.Len(t, decoded, 3)

	require.Equal(t, events.SubtypeFee, decoded[0].EventSubtype)

	depositEvent := decoded[1]
	require.Equal(t, events.TypeDeposit, depositEvent.EventType)
	require.Equal(t, events.SubtypeDepositForWrapped, depositEvent.EventSubtype)
	require.Equal(t, balancerv3.Counterparty, depositEvent.Counterparty)
	require.Equal(t, "Deposit 100 RZR to a Balancer v3 pool", depositEvent.Notes)

	receiveEvent := decoded[2]
	require.Equal(t, events.TypeReceive, receiveEvent.EventType)
	require.Equal(t, events.SubtypeReceiveWrapped, receiveEvent.EventSubtype)
	require.Less(t, depositEvent.SequenceIndex, receiveEvent.SequenceIndex)
	require.Equal(t, map[string]interface{}{"deposit_events_num": 1}, receiveEvent.ExtraData)
}

func TestBalancerV3RemoveLiquidity(t *testing.T) {
	registry := newRegistry(t)
	balancerv3.Register(registry, chain.Ethereum, func(common.Address) []common.Address {
		return []common.Address{tokenA, tokenB}
	})
	normalizer := NewEvmNormalizer(chain.Ethereum, registry, nil)

	liquidityRemovedTopic := common.BytesToHash(crypto.Keccak256(
		[]byte("LiquidityRemoved(address,address,uint8,uint256,uint256[],uint256[])")))

	tx := testTx(
		transferLog(poolToken, userAddress, evm.ZeroAddress, amount18(7), 0),
		evm.Log{
			Address: balancerv3.VaultAddress,
			Topics: []common.Hash{
				liquidityRemovedTopic,
				common.BytesToHash(poolToken.Bytes()),
				common.BytesToHash(userAddress.Bytes()),
				common.BytesToHash(big.NewInt(1).Bytes()),
			},
			Data:     packLiquidityData(t, amount18(7), []*big.Int{amount18(60), amount18(40)}),
			LogIndex: 1,
		},
		transferLog(tokenA, balancerv3.VaultAddress, userAddress, amount18(60), 2),
		transferLog(tokenB, balancerv3.VaultAddress, userAddress, amount18(40), 3),
	)

	decoded, err := normalizer.NormalizeTransaction(tx, trackedEvm(userAddress))
	require.NoError(t, err)
	require.Len(t, decoded, 4)

	returnEvent := decoded[1]
	require.Equal(t, events.TypeSpend, returnEvent.EventType)
	require.Equal(t, events.SubtypeReturnWrapped, returnEvent.EventSubtype)
	require.Equal(t, map[string]interface{}{"withdrawal_events_num": 2}, returnEvent.ExtraData)

	for _, withdrawal := range decoded[2:] {
		require.Equal(t, events.TypeWithdrawal, withdrawal.EventType)
		require.Equal(t, events.SubtypeRedeemWrapped, withdrawal.EventSubtype)
		require.Less(t, returnEvent.SequenceIndex, withdrawal.SequenceIndex,
			"the wrapped-token return must precede the withdrawals")
	}
}

func TestCurveGaugeDeposit(t *testing.T) {
	registry := newRegistry(t)
	registry.Tokens().Register(evm.Token{Address: gaugeAddr, Symbol: "GAUGE", Decimals: 18})
	curvegauge.Register(registry, chain.Ethereum, []common.Address{gaugeAddr}, crvToken)
	normalizer := NewEvmNormalizer(chain.Ethereum, registry, nil)

	depositTopic := common.BytesToHash(crypto.Keccak256([]byte("Deposit(address,uint256)")))
	tx := testTx(
		transferLog(tokenA, userAddress, gaugeAddr, amount18(10), 0),
		transferLog(gaugeAddr, evm.ZeroAddress, userAddress, amount18(10), 1),
		evm.Log{
			Address: gaugeAddr,
			Topics: []common.Hash{
				depositTopic,
				common.BytesToHash(userAddress.Bytes()),
			},
			Data:     common.LeftPadBytes(amount18(10).Bytes(), 32),
			LogIndex: 2,
		},
	)

	decoded, err := normalizer.NormalizeTransaction(tx, trackedEvm(userAddress))
	require.NoError(t, err)
	require.Len(t, decoded, 3)

	require.Equal(t, events.SubtypeFee, decoded[0].EventSubtype)
	require.Equal(t, events.TypeDeposit, decoded[1].EventType)
	require.Equal(t, events.SubtypeDepositForWrapped, decoded[1].EventSubtype)
	require.Equal(t, curvegauge.Counterparty, decoded[1].Counterparty)
	require.Equal(t, events.TypeReceive, decoded[2].EventType)
	require.Equal(t, events.SubtypeReceiveWrapped, decoded[2].EventSubtype)
	require.Less(t, decoded[1].SequenceIndex, decoded[2].SequenceIndex)
}

func TestCurveRewardClaim(t *testing.T) {
	registry := newRegistry(t)
	registry.Tokens().Register(evm.Token{Address: crvToken, Symbol: "CRV", Decimals: 18})
	curvegauge.Register(registry, chain.Ethereum, []common.Address{gaugeAddr}, crvToken)
	normalizer := NewEvmNormalizer(chain.Ethereum, registry, nil)

	tx := testTx(transferLog(crvToken, gaugeAddr, userAddress, amount18(12), 0))
	decoded, err := normalizer.NormalizeTransaction(tx, trackedEvm(userAddress))
	require.NoError(t, err)
	require.Len(t, decoded, 2)

	reward := decoded[1]
	require.Equal(t, events.TypeStaking, reward.EventType)
	require.Equal(t, events.SubtypeReward, reward.EventSubtype)
	require.Equal(t, curvegauge.Counterparty, reward.Counterparty)
	require.Contains(t, reward.Notes, "Claim 12 CRV rewards")
}

type capturingMessenger struct {
	warnings []string
}

func (m *capturingMessenger) Warning(message string) {
	m.warnings = append(m.warnings, message)
}

// TestDecoderFailureLeavesGenericEvents checks that a failing decoder neither
// aborts the transaction nor loses the preliminary transfer events.
func TestDecoderFailureLeavesGenericEvents(t *testing.T) {
	registry := newRegistry(t)
	registry.RegisterAddressDecoder(tokenA, func(*decoder.Context) (decoder.Output, error) {
		panic("decoder bug")
	})
	messenger := &capturingMessenger{}
	normalizer := NewEvmNormalizer(chain.Ethereum, registry, messenger)

	tx := testTx(transferLog(tokenA, userAddress, otherAddress, amount18(5), 0))
	decoded, err := normalizer.NormalizeTransaction(tx, trackedEvm(userAddress))
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	require.Equal(t, events.TypeSpend, decoded[1].EventType)
	require.Equal(t, events.SubtypeNone, decoded[1].EventSubtype)
	require.NotEmpty(t, messenger.warnings)
}
