package pipeline

import (
	"math"

	"github.com/panelkit/panelkit/internal/errors"
	"github.com/panelkit/panelkit/internal/panel"
)

// Security columns read or derived by the security stage.
const (
	colPriceWithFlag = "Price with Flag"
	colPriceFactor   = "Price Adjustment Factor"
	colSharesOnDay   = "Shares Outstanding on Trading Day"
	colShareFactor   = "Share Adjustment Factor"
	colVolumeOnDay   = "Volume on Trading Day"

	colImputedPrice = "Imputed Price"
	colPrice        = "Price"
	colShares       = "Shares Outstanding"
	colVolume       = "Volume"
	colMarketCap    = "Market Cap (Billions, CRSP)"
	colPriceVolume  = "Price Volume"
)

// Accounting columns read or derived by the accounting stage.
const (
	colPriceComp     = "Price (Compustat)"
	colSharesComp    = "Shares Outstanding (Compustat)"
	colMarketCapComp = "Market Cap (Compustat)"
	colShareholderEq = "Shareholder Equity, Total"
	colCommonEq      = "Common Equity, Total"
	colPreferredEq   = "Preferred Equity, Total"
	colAssets        = "Assets, Total"
	colLiabilities   = "Liabilities, Total"
	colDeferredTax   = "Deferred Tax Assets"
	colBookEquity    = "Book Equity"
)

// feature is one derived column.
type feature struct {
	field  panel.Field
	inputs []string
	fn     func(in []panel.Value) panel.Value
}

func floatFeature(name string, inputs []string, fn func(in []float64) float64) feature {
	return feature{
		field:  panel.Field{Name: name, Kind: panel.KindFloat},
		inputs: inputs,
		fn: func(in []panel.Value) panel.Value {
			xs := make([]float64, len(in))
			for i, v := range in {
				xs[i] = v.Float()
			}
			// NaN inputs propagate to a missing result.
			return panel.FloatValue(fn(xs))
		},
	}
}

// derive adds features to t in order; later features see earlier ones. When
// optional is set, features whose inputs are absent are skipped instead of
// failing.
func derive(t *panel.Table, optional bool, features ...feature) (*panel.Table, error) {
	for _, f := range features {
		idx, err := t.Schema.Indices(f.inputs...)
		if err != nil {
			if optional {
				continue
			}
			return nil, errors.Wrapf(err, "%s: derive %q", t.Name, f.field.Name)
		}
		in := make([]panel.Value, len(idx))
		t, err = t.Derive(f.field, func(r panel.Row) panel.Value {
			for i, j := range idx {
				in[i] = r[j]
			}
			return f.fn(in)
		})
		if err != nil {
			return nil, err
		}
	}
	return t, nil
}

// securityFeatures are derived from the renamed security extract. A negative
// raw price marks a bid/ask midpoint imputed for a day without trades.
var securityFeatures = []feature{
	{
		field:  panel.Field{Name: colImputedPrice, Kind: panel.KindBool},
		inputs: []string{colPriceWithFlag},
		fn: func(in []panel.Value) panel.Value {
			return panel.BoolValue(!in[0].IsNull() && in[0].Float() < 0)
		},
	},
	floatFeature(colPrice, []string{colPriceWithFlag, colPriceFactor}, func(in []float64) float64 {
		return math.Abs(in[0]) / in[1]
	}),
	floatFeature(colShares, []string{colSharesOnDay, colShareFactor}, func(in []float64) float64 {
		return in[0] * in[1]
	}),
	floatFeature(colVolume, []string{colVolumeOnDay, colShareFactor}, func(in []float64) float64 {
		return in[0] * in[1]
	}),
	floatFeature(colMarketCap, []string{colShares, colPrice}, func(in []float64) float64 {
		return in[0] * in[1] / 1e6
	}),
}

// priceVolume is derived after share classes are collapsed.
var priceVolume = floatFeature(colPriceVolume, []string{colPrice, colVolume}, func(in []float64) float64 {
	return in[0] * in[1]
})

// accountingFeatures are derived after increments are computed. Shareholder
// equity falls back to common plus preferred equity, then to assets minus
// liabilities.
var accountingFeatures = []feature{
	floatFeature(colMarketCapComp, []string{colPriceComp, colSharesComp}, func(in []float64) float64 {
		return in[0] * in[1] / 1e3
	}),
	floatFeature(colShareholderEq, []string{colShareholderEq, colCommonEq, colPreferredEq}, func(in []float64) float64 {
		return coalesce(in[0], in[1]+in[2])
	}),
	floatFeature(colShareholderEq, []string{colShareholderEq, colAssets, colLiabilities}, func(in []float64) float64 {
		return coalesce(in[0], in[1]-in[2])
	}),
	floatFeature(colBookEquity, []string{colShareholderEq, colDeferredTax, colPreferredEq}, func(in []float64) float64 {
		return in[0] + in[1] - in[2]
	}),
}

// coalesce returns the first non-NaN value, or NaN.
func coalesce(xs ...float64) float64 {
	for _, x := range xs {
		if !math.IsNaN(x) {
			return x
		}
	}
	return math.NaN()
}
