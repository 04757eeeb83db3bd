package evm

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// registryABI is the subset of the fee market registry the client uses.
// The relayer list is kept sorted by fee and linked through prev pointers,
// with address(1) as the list head.
const registryABI = `[
  {"type":"function","name":"enroll","stateMutability":"payable",
   "inputs":[{"name":"prev","type":"address"},{"name":"fee","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"move","stateMutability":"nonpayable",
   "inputs":[{"name":"oldPrev","type":"address"},{"name":"newPrev","type":"address"},{"name":"newFee","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"leave","stateMutability":"nonpayable",
   "inputs":[{"name":"prev","type":"address"}],"outputs":[]},
  {"type":"function","name":"deposit","stateMutability":"payable","inputs":[],"outputs":[]},
  {"type":"function","name":"withdraw","stateMutability":"nonpayable",
   "inputs":[{"name":"wad","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"isRelayer","stateMutability":"view",
   "inputs":[{"name":"addr","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"relayerCount","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"collateralPerOrder","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getOrderBook","stateMutability":"view",
   "inputs":[{"name":"count","type":"uint256"},{"name":"flag","type":"bool"}],
   "outputs":[
     {"name":"","type":"uint256"},
     {"name":"","type":"address[]"},
     {"name":"","type":"uint256[]"},
     {"name":"","type":"uint256[]"},
     {"name":"","type":"uint256[]"}]}
]`

var parsedABI abi.ABI

func init() {
	var err error
	if parsedABI, err = abi.JSON(strings.NewReader(registryABI)); err != nil {
		panic(err)
	}
}

// RegistryABI returns the parsed registry interface.
func RegistryABI() abi.ABI {
	return parsedABI
}
