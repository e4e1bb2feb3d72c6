package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panelkit/panelkit/internal/errors"
	"github.com/panelkit/panelkit/internal/panel"
	"github.com/panelkit/panelkit/internal/testutil"
)

func TestCleanSecurity(t *testing.T) {
	cfg := testConfig(t).Security
	raw := testutil.Table(t, "crsp", securityFields,
		[]string{"1", "2020-01-31", "11", "11", "ACME", "10", "1", "1000", "1", "100", "0.01"},
		[]string{"1", "2020-01-31", "12", "11", "ACME B", "-20", "1", "3000", "1", "50", "0.03"},
		[]string{"1", "2020-02-29", "11", "11", "ACME", "11", "1", "1000", "1", "200", ""},
		[]string{"2", "2020-01-31", "21", "73", "FOREIGN ADR", "5", "1", "10", "1", "10", "0.05"},
		[]string{"3", "2020-01-31", "31", "10", "SPLIT CO", "5", "2", "100", "2", "10", "0.02"},
	)

	out, err := CleanSecurity(context.Background(), newPool(t), raw, cfg)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"Permco", "datadate", "Company Name", "Permno", "Price", "Imputed Price",
		"Market Cap (Billions, CRSP)", "Volume", "Return", "Price Volume",
	}, out.Schema.Names())
	require.Equal(t, 2, out.Len(), "ADR and missing return rows are dropped")

	// Two share classes: the larger one supplies identifiers and price.
	r := testutil.Lookup(t, out, keys, "1|2020-01-31")
	assert.Equal(t, int64(12), cell(t, out, r, "Permno").Int())
	assert.Equal(t, "ACME B", cell(t, out, r, "Company Name").Text())
	assert.Equal(t, 20.0, cell(t, out, r, "Price").Float())
	assert.True(t, cell(t, out, r, "Imputed Price").Bool())
	assert.InDelta(t, 0.07, cell(t, out, r, "Market Cap (Billions, CRSP)").Float(), 1e-12)
	assert.InDelta(t, 4/0.07, cell(t, out, r, "Volume").Float(), 1e-9)
	assert.InDelta(t, 0.0019/0.07, cell(t, out, r, "Return").Float(), 1e-12)
	assert.InDelta(t, 20*4/0.07, cell(t, out, r, "Price Volume").Float(), 1e-9)

	// Adjustment factors apply to price, shares and volume.
	r = testutil.Lookup(t, out, keys, "3|2020-01-31")
	assert.Equal(t, 2.5, cell(t, out, r, "Price").Float())
	assert.False(t, cell(t, out, r, "Imputed Price").Bool())
	assert.Equal(t, 20.0, cell(t, out, r, "Volume").Float())
	assert.InDelta(t, 200*2.5/1e6, cell(t, out, r, "Market Cap (Billions, CRSP)").Float(), 1e-15)
}

func TestCleanSecurity_MissingColumn(t *testing.T) {
	cfg := testConfig(t).Security
	raw := testutil.Table(t, "crsp", securityFields[:4])

	_, err := CleanSecurity(context.Background(), newPool(t), raw, cfg)
	assert.ErrorIs(t, err, errors.ErrMissingColumn)
}

func TestCommonShares(t *testing.T) {
	raw := testutil.Table(t, "crsp", []panel.Field{{Name: "SHRCD", Kind: panel.KindInt}},
		[]string{"9"}, []string{"10"}, []string{"11"}, []string{"19"},
		[]string{"20"}, []string{"73"}, []string{""},
	)

	out, err := commonShares(raw, "SHRCD")
	require.NoError(t, err)
	assert.Equal(t, []string{"10", "11", "19"}, testutil.Column(t, out, "SHRCD"))

	_, err = commonShares(raw, "SHRCLS")
	assert.ErrorIs(t, err, errors.ErrMissingColumn)
}

var shareClassFields = []panel.Field{
	{Name: "Permco", Kind: panel.KindInt},
	{Name: "datadate", Kind: panel.KindDate},
	{Name: "Ticker", Kind: panel.KindString},
	{Name: "Market Cap (Billions, CRSP)", Kind: panel.KindFloat},
	{Name: "Return", Kind: panel.KindFloat},
}

func TestShareClassReducer(t *testing.T) {
	cfg := testConfig(t).Security
	cfg.Aggregation.First = []string{"Ticker"}
	cfg.ValueColumns = []string{"Return"}

	tbl := testutil.Table(t, "classes", shareClassFields,
		// Tied weights: the earlier row wins.
		[]string{"1", "2020-01-31", "AAA", "2", "0.01"},
		[]string{"1", "2020-01-31", "AAB", "2", "0.03"},
		// A missing weight ranks last and is ignored by the average.
		[]string{"2", "2020-01-31", "BBA", "", "0.50"},
		[]string{"2", "2020-01-31", "BBB", "1", "0.02"},
		// No usable weight: the top row's value is kept.
		[]string{"3", "2020-01-31", "CCA", "", "0.04"},
		[]string{"3", "2020-01-31", "CCB", "", "0.06"},
	)

	tf, err := shareClassReducer(tbl.Schema, cfg)
	require.NoError(t, err)
	out, err := newPool(t).Apply(context.Background(), tbl, keys, tf)
	require.NoError(t, err)
	require.Equal(t, 3, out.Len())

	r := testutil.Lookup(t, out, keys, "1|2020-01-31")
	assert.Equal(t, "AAA", cell(t, out, r, "Ticker").Text())
	assert.Equal(t, 4.0, cell(t, out, r, "Market Cap (Billions, CRSP)").Float())
	assert.InDelta(t, 0.02, cell(t, out, r, "Return").Float(), 1e-12)

	r = testutil.Lookup(t, out, keys, "2|2020-01-31")
	assert.Equal(t, "BBB", cell(t, out, r, "Ticker").Text())
	assert.Equal(t, 1.0, cell(t, out, r, "Market Cap (Billions, CRSP)").Float())
	assert.InDelta(t, 0.02, cell(t, out, r, "Return").Float(), 1e-12)

	r = testutil.Lookup(t, out, keys, "3|2020-01-31")
	assert.Equal(t, "CCA", cell(t, out, r, "Ticker").Text())
	assert.Equal(t, 0.0, cell(t, out, r, "Market Cap (Billions, CRSP)").Float())
	assert.Equal(t, 0.04, cell(t, out, r, "Return").Float())
}

func TestShareClassReducer_RequiresFloats(t *testing.T) {
	cfg := testConfig(t).Security
	cfg.Aggregation.First = []string{"Ticker"}
	cfg.ValueColumns = []string{"Ticker"}

	s := panel.MustSchema(shareClassFields...)
	_, err := shareClassReducer(s, cfg)
	assert.ErrorIs(t, err, errors.ErrInvalidSchema)

	cfg.ValueColumns = []string{"Return"}
	cfg.Aggregation.Weight = "Volume"
	_, err = shareClassReducer(s, cfg)
	assert.ErrorIs(t, err, errors.ErrMissingColumn)
}

func TestCollapseShareClasses_UniqueKeysUntouched(t *testing.T) {
	cfg := testConfig(t).Security
	cfg.Aggregation.First = []string{"Ticker"}
	cfg.ValueColumns = []string{"Return"}

	tbl := testutil.Table(t, "classes", shareClassFields,
		[]string{"1", "2020-01-31", "AAA", "2", "0.01"},
		[]string{"1", "2020-02-29", "AAA", "", ""},
	)

	out, err := collapseShareClasses(context.Background(), newPool(t), tbl, cfg)
	require.NoError(t, err)
	assert.Same(t, tbl, out)
}
