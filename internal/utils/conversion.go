/*
This file contains common utility functions for converting between user-entered decimal strings
and integer amounts in an asset's smallest unit.
*/

package utils

import (
	"errors"
	"fmt"
	"math"
	"strings"

	sdkmath "cosmossdk.io/math"
)

// MaxDecimals is the largest decimal count an asset may declare.
const MaxDecimals = 18

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidPrecision = errors.New("precision is invalid")
	ErrAmountNil        = errors.New("amount is nil")
	ErrAmountNegative   = errors.New("amount is negative")
	ErrNotFinite        = errors.New("value is not finite")
	ErrConversionFailed = errors.New("conversion failed")
	ErrMalformedDecimal = errors.New("malformed decimal string")
)

// ParseUnits converts a decimal string such as "1.5" into an integer amount with the given
// number of decimals. Digits beyond the asset precision are truncated, never rounded.
func ParseUnits(value string, decimals int) (sdkmath.Int, error) {
	if decimals < 0 || decimals > MaxDecimals {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %d (must be between 0 and %d)", ErrInvalidPrecision, decimals, MaxDecimals)
	}

	value = strings.TrimSpace(value)
	if value == "" {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: empty", ErrMalformedDecimal)
	}
	if strings.HasPrefix(value, "-") {
		return sdkmath.ZeroInt(), ErrAmountNegative
	}

	whole, fraction, _ := strings.Cut(value, ".")
	if whole == "" && fraction == "" {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %q", ErrMalformedDecimal, value)
	}
	if !isDigits(whole) || !isDigits(fraction) {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %q", ErrMalformedDecimal, value)
	}

	if len(fraction) > decimals {
		fraction = fraction[:decimals]
	}
	fraction += strings.Repeat("0", decimals-len(fraction))

	digits := strings.TrimLeft(whole+fraction, "0")
	if digits == "" {
		return sdkmath.ZeroInt(), nil
	}

	amount, ok := sdkmath.NewIntFromString(digits)
	if !ok {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %q exceeds the supported range", ErrConversionFailed, value)
	}
	return amount, nil
}

// FormatUnits is the inverse of ParseUnits. Trailing fractional zeros are dropped.
func FormatUnits(amount sdkmath.Int, decimals int) (string, error) {
	if decimals < 0 || decimals > MaxDecimals {
		return "", fmt.Errorf("%w: %d (must be between 0 and %d)", ErrInvalidPrecision, decimals, MaxDecimals)
	}
	if amount.IsNil() {
		return "", ErrAmountNil
	}
	if amount.IsNegative() {
		return "", ErrAmountNegative
	}

	digits := amount.String()
	if decimals == 0 {
		return digits, nil
	}
	if len(digits) <= decimals {
		digits = strings.Repeat("0", decimals-len(digits)+1) + digits
	}

	whole := digits[:len(digits)-decimals]
	fraction := strings.TrimRight(digits[len(digits)-decimals:], "0")
	if fraction == "" {
		return whole, nil
	}
	return whole + "." + fraction, nil
}

// SDKIntToFloat64 converts an SDK Int to float64 with proper precision handling.
// Only meant for logging and display, never for amounts sent on-chain.
func SDKIntToFloat64(amount sdkmath.Int, precision int) (float64, error) {
	if precision < 0 || precision > MaxDecimals {
		return 0, fmt.Errorf("%w: %d (must be between 0 and %d)", ErrInvalidPrecision, precision, MaxDecimals)
	}
	if amount.IsNil() {
		return 0, ErrAmountNil
	}
	if amount.IsNegative() {
		return 0, ErrAmountNegative
	}

	result := sdkmath.LegacyNewDecFromIntWithPrec(amount, int64(precision))
	resultFloat, err := result.Float64()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrConversionFailed, err)
	}

	if math.IsNaN(resultFloat) || math.IsInf(resultFloat, 0) {
		return 0, fmt.Errorf("%w: result is %f", ErrNotFinite, resultFloat)
	}

	return resultFloat, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
