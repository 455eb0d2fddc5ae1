package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Minimal ABI fragments for the three contracts the runner touches. Only
// the methods we actually call are declared.

const registryABIJSON = `[
  {"name":"getAgentData","type":"function","stateMutability":"view",
   "inputs":[{"name":"tokenId","type":"uint256"}],
   "outputs":[
     {"name":"agentType","type":"string"},
     {"name":"owner","type":"address"},
     {"name":"renter","type":"address"},
     {"name":"vault","type":"address"},
     {"name":"strategyParams","type":"string"}]},
  {"name":"isPaused","type":"function","stateMutability":"view",
   "inputs":[{"name":"tokenId","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"name":"enableWithPermit","type":"function","stateMutability":"nonpayable",
   "inputs":[
     {"name":"permit","type":"tuple","components":[
       {"name":"tokenId","type":"uint256"},
       {"name":"renter","type":"address"},
       {"name":"operator","type":"address"},
       {"name":"expires","type":"uint256"},
       {"name":"nonce","type":"uint256"},
       {"name":"deadline","type":"uint256"}]},
     {"name":"sig","type":"bytes"}],
   "outputs":[]},
  {"name":"disableAgent","type":"function","stateMutability":"nonpayable",
   "inputs":[{"name":"tokenId","type":"uint256"}],
   "outputs":[]}
]`

const validatorABIJSON = `[
  {"name":"validateAction","type":"function","stateMutability":"view",
   "inputs":[
     {"name":"tokenId","type":"uint256"},
     {"name":"vault","type":"address"},
     {"name":"target","type":"address"},
     {"name":"value","type":"uint256"},
     {"name":"spendAmount","type":"uint256"},
     {"name":"data","type":"bytes"}],
   "outputs":[
     {"name":"ok","type":"bool"},
     {"name":"reason","type":"string"}]}
]`

const erc20ABIJSON = `[
  {"name":"balanceOf","type":"function","stateMutability":"view",
   "inputs":[{"name":"account","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"name":"symbol","type":"function","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"string"}]},
  {"name":"decimals","type":"function","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

var (
	registryABI  = mustABI(registryABIJSON)
	validatorABI = mustABI(validatorABIJSON)
	erc20ABI     = mustABI(erc20ABIJSON)
)

func mustABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("parsing contract ABI: %v", err))
	}
	return parsed
}

// permitArg matches the registry's permit tuple. Field names must line up
// with the ABI component names for go-ethereum's tuple packing.
type permitArg struct {
	TokenId  *big.Int
	Renter   common.Address
	Operator common.Address
	Expires  *big.Int
	Nonce    *big.Int
	Deadline *big.Int
}
