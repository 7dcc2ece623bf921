package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const vaultABIJSON = `[
{"anonymous":false,"name":"StrategyPurchased","type":"event","inputs":[
 {"indexed":true,"name":"strategyId","type":"uint256"},
 {"indexed":true,"name":"user","type":"address"},
 {"indexed":false,"name":"grossAmount","type":"uint256"},
 {"indexed":false,"name":"netAmount","type":"uint256"}]},
{"name":"getHedgeOrder","type":"function","stateMutability":"view",
 "inputs":[{"name":"strategyId","type":"uint256"}],
 "outputs":[{"name":"executed","type":"bool"},{"name":"amount","type":"uint256"},{"name":"asset","type":"string"},{"name":"isLong","type":"bool"}]},
{"name":"isOrderExecuted","type":"function","stateMutability":"view",
 "inputs":[{"name":"strategyId","type":"uint256"}],
 "outputs":[{"name":"","type":"bool"}]},
{"name":"getStrategy","type":"function","stateMutability":"view",
 "inputs":[{"name":"strategyId","type":"uint256"}],
 "outputs":[{"name":"totalInvested","type":"uint256"},{"name":"settled","type":"bool"}]},
{"name":"closeHedgeOrder","type":"function","stateMutability":"nonpayable",
 "inputs":[{"name":"strategyId","type":"uint256"},{"name":"realizedPnL","type":"int256"}],
 "outputs":[]},
{"name":"settleStrategy","type":"function","stateMutability":"nonpayable",
 "inputs":[{"name":"strategyId","type":"uint256"},{"name":"payoutPerUSDC","type":"uint256"}],
 "outputs":[]},
{"name":"AlreadySettled","type":"error","inputs":[]},
{"name":"OrderNotExecuted","type":"error","inputs":[]},
{"name":"AssetNotSupported","type":"error","inputs":[]}
]`

const purchasedEvent = "StrategyPurchased"

var (
	vaultABI abi.ABI
	// PurchaseTopic is topic[0] of the purchase event.
	PurchaseTopic common.Hash
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(vaultABIJSON))
	if err != nil {
		panic("failed to parse vault ABI: " + err.Error())
	}
	vaultABI = parsed
	PurchaseTopic = parsed.Events[purchasedEvent].ID
}
