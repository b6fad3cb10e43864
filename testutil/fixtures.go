package testutil

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
)

// TestPrivateKey1 is a throwaway key for producing real signatures in
// tests. Never fund it.
var TestPrivateKey1, _ = crypto.HexToECDSA("b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291")

// TestPrivateKey1Address is the account TestPrivateKey1 controls.
var TestPrivateKey1Address = crypto.PubkeyToAddress(TestPrivateKey1.PublicKey)

// Fixed addresses for records that never need a matching key.
var (
	TestAddr1 = common.HexToAddress("0x71562b71999873DB5b286dF957af199Ec94617F7")
	TestAddr2 = common.HexToAddress("0x9d4cF443b6faF46F9A1a8BCb0b2EC9eb3eD9D19F")
	TestAddr3 = common.HexToAddress("0x0c54FcCd2e384b4BB6f2E405Bf5Cbc15a017AaFb")
)

// OneEth is 1 ether in wei.
var OneEth = new(big.Int).SetUint64(params.Ether)

// Gwei converts a gwei amount to wei.
func Gwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(params.GWei))
}
