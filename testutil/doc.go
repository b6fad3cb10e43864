// Package testutil provides fixtures and builders shared by the txengine
// tests.
//
// Mock implementations of the engine's interfaces (Provider, FeeDataSource,
// RelayClient and friends) live in the txengine package's own test files to
// avoid import cycles; this package only holds utilities that depend on
// go-ethereum types.
//
// # Fixtures
//
//   - TestAddr1, TestAddr2, TestAddr3: fixed addresses with no key
//   - TestPrivateKey1, TestPrivateKey1Address: a usable ECDSA key and its address
//   - OneEth, Gwei: wei amounts for value and fee assertions
//
// # Builders
//
//   - NewTx, NewDynamicTx: unsigned wire transactions
//   - SignTx: a real signature over a test transaction with TestPrivateKey1
//   - NewReceiptAtBlock: a receipt mined at a chosen block
package testutil
