package staging

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ArionMiles/recsav/pkg/api"
)

// Kind controls how a raw CSV cell is converted before insertion.
type Kind int

const (
	// KindText is inserted verbatim, empty strings included.
	KindText Kind = iota
	// KindDate accepts YYYY-MM-DD or YYYY/MM/DD.
	KindDate
	// KindYearMonth accepts a date or YYYY-MM / YYYY/MM and stores the first of the month.
	KindYearMonth
	// KindAmount is a decimal; empty becomes NULL.
	KindAmount
	// KindFlag is free text; empty becomes NULL.
	KindFlag
)

// Field maps one CSV column, by position, to a staging column.
type Field struct {
	Name string
	// Header is the export's column title. Empty disables the check.
	Header string
	Column string
	Kind   Kind
	// Optional fields may be missing from the end of a row.
	Optional bool
}

// Schema is the named-field layout of one source's CSV.
type Schema struct {
	Source api.Source
	Table  string
	// Fields are listed in CSV column order.
	Fields []Field
	// Key is the index of the field whose blank value skips the row.
	Key int
	// Fixed are constant column values added to every row.
	Fixed map[string]any
}

// MinColumns is the number of leading fields a row must carry.
func (s *Schema) MinColumns() int {
	n := 0
	for _, f := range s.Fields {
		if f.Optional {
			break
		}
		n++
	}
	return n
}

// Columns returns the target columns in insertion order: fields first, then
// fixed columns sorted by name.
func (s *Schema) Columns() []string {
	cols := make([]string, 0, len(s.Fields)+len(s.Fixed))
	for _, f := range s.Fields {
		cols = append(cols, f.Column)
	}
	return append(cols, s.fixedColumns()...)
}

func (s *Schema) fixedColumns() []string {
	var keys []string
	for k := range s.Fixed {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// InsertSQL is the parameterised INSERT for one row.
func (s *Schema) InsertSQL() string {
	cols := s.Columns()
	params := make([]string, len(cols))
	for i := range cols {
		params[i] = "$" + strconv.Itoa(i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		s.Table, strings.Join(cols, ", "), strings.Join(params, ", "))
}

// Validate checks a header row against the schema: the required columns
// must all be present, in order, under their expected titles.
func (s *Schema) Validate(header []string) error {
	if len(header) < s.MinColumns() {
		return &MalformedRowError{
			Source: s.Source,
			Line:   1,
			Reason: fmt.Sprintf("header has %d columns, want at least %d", len(header), s.MinColumns()),
		}
	}
	for i, f := range s.Fields {
		if f.Optional || f.Header == "" {
			continue
		}
		got := strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
		if got != f.Header {
			return &MalformedRowError{
				Source: s.Source,
				Line:   1,
				Reason: fmt.Sprintf("column %d is %q, want %q (%s)", i+1, got, f.Header, f.Name),
			}
		}
	}
	return nil
}

// Parse converts one data record into insert arguments.
// skip is true when the key column is blank.
func (s *Schema) Parse(record []string, line int) (args []any, skip bool, err error) {
	if len(record) < s.MinColumns() {
		return nil, false, &MalformedRowError{
			Source: s.Source,
			Line:   line,
			Reason: fmt.Sprintf("row has %d columns, want at least %d", len(record), s.MinColumns()),
		}
	}
	if s.Key < len(record) && strings.TrimSpace(record[s.Key]) == "" {
		return nil, true, nil
	}

	args = make([]any, 0, len(s.Fields)+len(s.Fixed))
	for i, f := range s.Fields {
		raw := ""
		if i < len(record) {
			raw = record[i]
		}
		v, err := convert(f.Kind, raw)
		if err != nil {
			return nil, false, &MalformedRowError{
				Source: s.Source,
				Line:   line,
				Reason: fmt.Sprintf("%s: %v", f.Name, err),
			}
		}
		args = append(args, v)
	}
	for _, c := range s.fixedColumns() {
		args = append(args, s.Fixed[c])
	}
	return args, false, nil
}

func convert(kind Kind, raw string) (any, error) {
	switch kind {
	case KindDate:
		return parseDate(strings.TrimSpace(raw))
	case KindYearMonth:
		return parseYearMonth(strings.TrimSpace(raw))
	case KindAmount:
		v := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
		if v == "" {
			return nil, nil
		}
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("invalid amount %q", raw)
		}
		return d, nil
	case KindFlag:
		if strings.TrimSpace(raw) == "" {
			return nil, nil
		}
		return raw, nil
	default:
		return raw, nil
	}
}

var dateLayouts = []string{"2006-01-02", "2006/01/02", "2006/1/2"}

func parseDate(v string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", v)
}

func parseYearMonth(v string) (time.Time, error) {
	if t, err := parseDate(v); err == nil {
		return api.MonthStart(t), nil
	}
	for _, layout := range []string{"2006-01", "2006/01", "2006/1", "200601"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid year-month %q", v)
}

// ZaimHistory is the 16-column expense-tracker history export.
var ZaimHistory = Schema{
	Source: api.SourceZaimHistory,
	Table:  "if_zaim",
	Fields: []Field{
		{Name: "date", Header: "日付", Column: "if_zaim_date", Kind: KindDate},
		{Name: "method", Header: "方法", Column: "if_zaim_method"},
		{Name: "category", Header: "カテゴリ", Column: "if_zaim_category"},
		{Name: "category detail", Header: "カテゴリの内訳", Column: "if_zaim_category_detail"},
		{Name: "payment source", Header: "支払元", Column: "if_zaim_payment_source"},
		{Name: "deposit", Header: "入金先", Column: "if_zaim_deposit"},
		{Name: "item", Header: "品目", Column: "if_zaim_item"},
		{Name: "remarks", Header: "メモ", Column: "if_zaim_remarks"},
		{Name: "store", Header: "お店", Column: "if_zaim_store"},
		{Name: "currency", Header: "通貨", Column: "if_zaim_currency"},
		{Name: "income amount", Header: "収入", Column: "if_zaim_income_amount", Kind: KindAmount},
		{Name: "expense amount", Header: "支出", Column: "if_zaim_expense_amount", Kind: KindAmount},
		{Name: "transfer amount", Header: "振替", Column: "if_zaim_transfer_amount", Kind: KindAmount},
		{Name: "balance amount", Header: "残高調整", Column: "if_zaim_balance_amount", Kind: KindAmount},
		{Name: "before amount", Header: "通貨変換前の金額", Column: "if_zaim_before_amount", Kind: KindAmount},
		{Name: "aggregation setting", Header: "集計の設定", Column: "if_zaim_aggregation_settings", Kind: KindFlag},
	},
}

// ZaimBudget is the 3-column expense-tracker budget export.
var ZaimBudget = Schema{
	Source: api.SourceZaimBudget,
	Table:  "if_zaim_budget",
	Fields: []Field{
		{Name: "year-month", Header: "年月", Column: "if_zaim_year_month", Kind: KindYearMonth},
		{Name: "category", Header: "カテゴリ", Column: "if_zaim_category"},
		{Name: "amount", Header: "予算", Column: "if_zaim_budget_amount", Kind: KindAmount},
	},
}

// cardTrailer holds the columns that follow the payment columns on every tab.
// Their titles carry the statement month, so they have no fixed Header.
var cardTrailer = []Field{
	{Name: "monthly payment amount", Column: "monthly_payment_amount", Kind: KindAmount, Optional: true},
	{Name: "carryover balance", Column: "monthly_carryover_balance", Kind: KindAmount, Optional: true},
	{Name: "new signup flag", Column: "new_signup_flag", Kind: KindFlag, Optional: true},
}

var cardHead = []Field{
	{Name: "usage date", Header: "利用日", Column: "usage_date", Kind: KindDate},
	{Name: "merchant", Header: "利用店名・商品名", Column: "merchant_product_name"},
	{Name: "customer", Header: "利用者", Column: "customer_nm"},
	{Name: "payment method", Header: "支払方法", Column: "payment_method"},
	{Name: "usage amount", Header: "利用金額", Column: "usage_amount", Kind: KindAmount},
	{Name: "payment fee", Header: "支払手数料", Column: "payment_fee", Kind: KindAmount},
	{Name: "total payment", Header: "支払総額", Column: "total_payment_amount", Kind: KindAmount},
}

// CardTab returns the schema of one card portal tab. Tab 0 (the settled
// statement) carries a payment-month column the unbilled tabs lack.
func CardTab(tab int) (*Schema, error) {
	src, ok := api.CardTabSource(tab)
	if !ok {
		return nil, fmt.Errorf("unsupported card tab %d", tab)
	}

	fields := append([]Field{}, cardHead...)
	if tab == 0 {
		fields = append(fields, Field{Name: "payment month", Header: "支払月", Column: "payment_month", Kind: KindFlag})
	}
	fields = append(fields, cardTrailer...)

	return &Schema{
		Source: src,
		Table:  "if_rakuten_card",
		Fields: fields,
		Fixed:  map[string]any{"tab_no": tab},
	}, nil
}
