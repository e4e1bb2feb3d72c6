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

func mergeInputs(t *testing.T) (sec, acc *panel.Table) {
	t.Helper()

	sec = testutil.Table(t, "cleaned_security", []panel.Field{
		{Name: "Permco", Kind: panel.KindInt},
		{Name: "datadate", Kind: panel.KindDate},
		{Name: "Company Name", Kind: panel.KindString},
		{Name: "Price", Kind: panel.KindFloat},
	},
		[]string{"1", "2020-04-30", "ACME", "13"},
		[]string{"1", "2020-01-31", "ACME", "10"},
		[]string{"1", "2020-03-31", "ACME", "12"},
		[]string{"1", "2020-02-29", "ACME", "11"},
		[]string{"2", "2020-03-31", "OTHER", "5"},
	)
	acc = testutil.Table(t, "cleaned_accounting", []panel.Field{
		{Name: "Permco", Kind: panel.KindInt},
		{Name: "datadate", Kind: panel.KindDate},
		{Name: "Company Name", Kind: panel.KindString},
		{Name: "Book Equity", Kind: panel.KindFloat},
	},
		[]string{"1", "2020-03-31", "ACME CORP", "97"},
		[]string{"2", "2020-02-29", "OTHER INC", "12"},
	)
	return sec, acc
}

func TestMergeTables(t *testing.T) {
	cfg := testConfig(t)
	sec, acc := mergeInputs(t)

	out, err := MergeTables(context.Background(), newPool(t), sec, acc, cfg)
	require.NoError(t, err)

	assert.Equal(t, cfg.Merge.Table, out.Name)
	assert.Equal(t, []string{
		"Permco", "datadate", "Company Name.crsp", "Price", "Company Name.comp", "Book Equity",
	}, out.Schema.Names())
	assert.Equal(t, []string{
		"1|2020-01-31|ACME|10|<null>|<null>",
		"1|2020-02-29|ACME|11|<null>|<null>",
		"1|2020-03-31|ACME|12|ACME CORP|97",
		"1|2020-04-30|ACME|13|ACME CORP|97",
		"2|2020-03-31|OTHER|5|<null>|<null>",
	}, testutil.Rows(out))

	// Inputs are left alone.
	assert.Equal(t, []string{"Permco", "datadate", "Company Name", "Price"}, sec.Schema.Names())
	assert.Equal(t, "13", testutil.Column(t, sec, "Price")[0])
}

func TestMergeTables_DuplicateReport(t *testing.T) {
	cfg := testConfig(t)
	sec, acc := mergeInputs(t)
	acc.Rows = append(acc.Rows, acc.Rows[0].Clone())

	_, err := MergeTables(context.Background(), newPool(t), sec, acc, cfg)
	assert.ErrorIs(t, err, errors.ErrDuplicateKey)
}

func TestMergeTables_MissingKey(t *testing.T) {
	cfg := testConfig(t)
	sec, acc := mergeInputs(t)
	acc, err := acc.Select("Permco", "Book Equity")
	require.NoError(t, err)

	_, err = MergeTables(context.Background(), newPool(t), sec, acc, cfg)
	assert.ErrorIs(t, err, errors.ErrMissingColumn)
}

func TestForwardFill(t *testing.T) {
	tbl := testutil.Table(t, "panel", []panel.Field{
		{Name: "Permco", Kind: panel.KindInt},
		{Name: "datadate", Kind: panel.KindDate},
		{Name: "Sales", Kind: panel.KindFloat},
		{Name: "Price", Kind: panel.KindFloat},
	},
		[]string{"1", "2020-01-31", "", ""},
		[]string{"1", "2020-02-29", "5", ""},
		[]string{"1", "2020-03-31", "", ""},
		[]string{"2", "2020-01-31", "", "7"},
		[]string{"2", "2020-02-29", "", ""},
	)

	// Only Sales is filled.
	out, err := newPool(t).Apply(context.Background(), tbl, []string{"Permco"}, forwardFill([]int{2}))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"1|2020-01-31|<null>|<null>",
		"1|2020-02-29|5|<null>",
		"1|2020-03-31|5|<null>",
		"2|2020-01-31|<null>|7",
		"2|2020-02-29|<null>|<null>",
	}, testutil.Rows(out))
}

func TestMergeTables_KeysMatchByValue(t *testing.T) {
	cfg := testConfig(t)
	fields := func(value string) []panel.Field {
		return []panel.Field{
			{Name: "Permco", Kind: panel.KindString},
			{Name: "datadate", Kind: panel.KindDate},
			{Name: value, Kind: panel.KindFloat},
		}
	}
	sec := testutil.Table(t, "cleaned_security", fields("Price"),
		[]string{"<null>", "2020-01-31", "10"},
	)
	// A missing entity renders like the text "<null>" but is a different key.
	acc := testutil.Table(t, "cleaned_accounting", fields("Book Equity"),
		[]string{"", "2020-01-31", "97"},
	)

	out, err := MergeTables(context.Background(), newPool(t), sec, acc, cfg)
	require.NoError(t, err)
	require.Equal(t, 1, out.Len())
	assert.Equal(t, "<null>", cell(t, out, out.Rows[0], "Permco").Text())
	assert.True(t, cell(t, out, out.Rows[0], "Book Equity").IsNull())
}
