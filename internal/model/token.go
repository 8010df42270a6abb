package model

import "github.com/ethereum/go-ethereum/common"

// NativeToken is the sentinel identifier of the chain's native asset.
var NativeToken = common.Address{}

// NativeDecimals is the decimal count of the native asset (wei per ether).
const NativeDecimals uint8 = 18

// IsNative reports whether token is the native-asset sentinel.
func IsNative(token common.Address) bool {
	return token == NativeToken
}

// TokenMeta captures ERC20 metadata.
type TokenMeta struct {
	Address  string `json:"address"`
	Decimals uint8  `json:"decimals"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
}

// NativeTokenMeta describes the native asset in token listings.
func NativeTokenMeta() TokenMeta {
	return TokenMeta{
		Address:  NativeToken.Hex(),
		Decimals: NativeDecimals,
		Symbol:   "ETH",
		Name:     "Ether",
	}
}
