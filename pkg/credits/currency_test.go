package credits

import (
	"errors"
	"testing"
)

func TestConvertValue(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name      string
		value     int64
		fromScale int32
		toScale   int32
		want      int64
	}{
		{"same scale", 100, 2, 2, 100},
		{"upscale", 100, 2, 3, 1000},
		{"upscale two digits", 7, 0, 2, 700},
		{"downscale exact", 1000, 3, 2, 100},
		{"downscale floors", 199, 2, 0, 1},
		{"zero", 0, 2, 9, 0},
	}
	for _, testCase := range cases {
		if got := ConvertValue(testCase.value, testCase.fromScale, testCase.toScale); got != testCase.want {
			t.Fatalf("%s: ConvertValue(%d, %d, %d) = %d, want %d",
				testCase.name, testCase.value, testCase.fromScale, testCase.toScale, got, testCase.want)
		}
	}
}

func TestConvertAmountCarriesTargetCurrency(t *testing.T) {
	t.Parallel()
	converted := ConvertAmount(Amount{Value: 10000, AssetCode: "EUR", AssetScale: 4}, "USD", 2)
	if converted.Value != 100 || converted.AssetCode != "USD" || converted.AssetScale != 2 {
		t.Fatalf("unexpected conversion: %+v", converted)
	}
}

func TestValidateAssetScale(t *testing.T) {
	t.Parallel()
	for _, scale := range []int32{0, 2, 18} {
		if err := ValidateAssetScale(scale); err != nil {
			t.Fatalf("expected scale %d to be valid: %v", scale, err)
		}
	}
	for _, scale := range []int32{-1, 19} {
		if err := ValidateAssetScale(scale); !errors.Is(err, ErrInvalidAssetScale) {
			t.Fatalf("expected ErrInvalidAssetScale for %d, got %v", scale, err)
		}
	}
}
