// Package amount converts decimal asset amounts to and from integer minor units.
package amount

import (
	"fmt"
	"math/big"
	"strings"

	apperrors "github.com/better-wallet/custody-core/pkg/errors"
	"github.com/better-wallet/custody-core/pkg/types"
	"github.com/shopspring/decimal"
)

// precisions holds the number of fractional digits of each asset's smallest unit.
var precisions = map[types.Asset]int32{
	types.AssetBTC:       8,  // satoshi
	types.AssetETH:       18, // wei
	types.AssetUSDTERC20: 6,  // token contract decimals
	types.AssetTRX:       6,  // sun
	types.AssetUSDTTRC20: 6,  // token contract decimals
}

// Precision returns the decimal precision of the asset.
func Precision(asset types.Asset) (int32, error) {
	p, ok := precisions[asset]
	if !ok {
		return 0, apperrors.NewWithDetail(apperrors.ErrCodeUnsupportedAsset, apperrors.ErrUnsupportedAsset.Message, string(asset))
	}
	return p, nil
}

// ToMinorUnits parses a non-negative plain decimal string ("12", "0.01", ".5")
// into the asset's minor units. More fractional digits than the asset allows
// is an error; nothing is rounded.
func ToMinorUnits(asset types.Asset, s string) (*big.Int, error) {
	precision, err := Precision(asset)
	if err != nil {
		return nil, err
	}

	fracDigits, err := validate(s)
	if err != nil {
		return nil, err
	}
	if fracDigits > int(precision) {
		return nil, apperrors.InvalidAmount(fmt.Sprintf("%q has %d fractional digits, %s allows %d", s, fracDigits, asset, precision))
	}

	normalized := s
	if strings.HasPrefix(normalized, ".") {
		normalized = "0" + normalized
	}
	normalized = strings.TrimSuffix(normalized, ".")

	d, err := decimal.NewFromString(normalized)
	if err != nil {
		return nil, apperrors.InvalidAmount(fmt.Sprintf("%q is not a number", s))
	}

	return d.Shift(precision).BigInt(), nil
}

// FormatMinorUnits renders minor units as a decimal string in canonical form:
// trailing fractional zeros are dropped, as is a dangling decimal point.
func FormatMinorUnits(asset types.Asset, units *big.Int) (string, error) {
	precision, err := Precision(asset)
	if err != nil {
		return "", err
	}
	if units == nil {
		return "", apperrors.InvalidAmount("nil amount")
	}
	return decimal.NewFromBigInt(units, -precision).String(), nil
}

// validate accepts digits with at most one decimal point and at least one
// digit overall. Signs, exponents and whitespace are rejected so that a
// negative or scientific amount can never reach the ledger.
func validate(s string) (int, error) {
	if s == "" {
		return 0, apperrors.InvalidAmount("empty amount")
	}

	digits, fracDigits := 0, 0
	seenDot := false
	for i, c := range s {
		switch {
		case c >= '0' && c <= '9':
			digits++
			if seenDot {
				fracDigits++
			}
		case c == '.' && !seenDot:
			seenDot = true
		case c == '-' && i == 0:
			return 0, apperrors.InvalidAmount(fmt.Sprintf("%q is negative", s))
		default:
			return 0, apperrors.InvalidAmount(fmt.Sprintf("%q is not a number", s))
		}
	}
	if digits == 0 {
		return 0, apperrors.InvalidAmount(fmt.Sprintf("%q is not a number", s))
	}
	return fracDigits, nil
}
