package credits

// ConvertValue rescales a non-negative smallest-unit amount from one decimal
// scale to another, preserving the display value: 100 at scale 2 ("1.00")
// becomes 1000 at scale 3 ("1.000"). Downscaling floors, so fractional units
// below the target precision are dropped.
//
// Differing asset codes are converted at an assumed 1:1 exchange rate. That
// is a documented simplification of this system, not a live FX lookup;
// callers that need real conversion must restrict sessions to one currency.
func ConvertValue(value int64, fromScale int32, toScale int32) int64 {
	if value <= 0 || fromScale == toScale {
		return value
	}
	if toScale > fromScale {
		return value * pow10(toScale-fromScale)
	}
	return value / pow10(fromScale-toScale)
}

// ConvertAmount rescales an amount into the given currency.
func ConvertAmount(amount Amount, assetCode string, assetScale int32) Amount {
	return Amount{
		Value:      ConvertValue(amount.Value, amount.AssetScale, assetScale),
		AssetCode:  assetCode,
		AssetScale: assetScale,
	}
}

// ValidateAssetScale bounds scales so 10^scale fits in int64.
func ValidateAssetScale(scale int32) error {
	if scale < 0 || scale > maxAssetScale {
		return ErrInvalidAssetScale
	}
	return nil
}

func pow10(exponent int32) int64 {
	result := int64(1)
	for i := int32(0); i < exponent; i++ {
		result *= 10
	}
	return result
}
