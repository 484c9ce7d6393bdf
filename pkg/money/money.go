// Package money 提供定点金额与比例类型，账本内所有运算均为精确整数运算
package money

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrCurrencyMismatch = errors.New("money: currency mismatch")
	ErrOverflow         = errors.New("money: amount overflows int64 minor units")
	ErrPrecision        = errors.New("money: more fractional digits than the currency allows")
	ErrInvalidAmount    = errors.New("money: invalid amount")
	ErrInvalidCurrency  = errors.New("money: invalid currency code")
)

// Money 以最小货币单位（如美分）表示的金额
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// zeroDecimal 无小数位的货币
var zeroDecimal = map[string]struct{}{
	"BIF": {}, "CLP": {}, "DJF": {}, "GNF": {}, "JPY": {}, "KMF": {}, "KRW": {}, "MGA": {},
	"PYG": {}, "RWF": {}, "UGX": {}, "VND": {}, "VUV": {}, "XAF": {}, "XOF": {}, "XPF": {},
}

// threeDecimal 三位小数的货币
var threeDecimal = map[string]struct{}{
	"BHD": {}, "JOD": {}, "KWD": {}, "OMR": {}, "TND": {},
}

// Exponent 返回货币的小数位数
func Exponent(currency string) int32 {
	c := strings.ToUpper(currency)
	if _, ok := zeroDecimal[c]; ok {
		return 0
	}
	if _, ok := threeDecimal[c]; ok {
		return 3
	}
	return 2
}

// NormalizeCurrency 校验并返回大写 ISO 4217 货币代码
func NormalizeCurrency(currency string) (string, error) {
	c := strings.ToUpper(strings.TrimSpace(currency))
	if len(c) != 3 {
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, currency)
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, currency)
		}
	}
	return c, nil
}

// New 创建金额
func New(amount int64, currency string) Money {
	return Money{Amount: amount, Currency: strings.ToUpper(currency)}
}

// Zero 零金额
func Zero(currency string) Money {
	return New(0, currency)
}

// Parse 解析十进制金额字符串，如 "100.00"
func Parse(amount, currency string) (Money, error) {
	cur, err := NormalizeCurrency(currency)
	if err != nil {
		return Money{}, err
	}
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	return FromDecimal(d, cur)
}

// FromDecimal 将十进制数转换为最小货币单位，拒绝超出货币精度的小数
func FromDecimal(d decimal.Decimal, currency string) (Money, error) {
	exp := Exponent(currency)
	scaled := d.Shift(exp)
	if !scaled.Equal(scaled.Truncate(0)) {
		return Money{}, fmt.Errorf("%w: %s %s", ErrPrecision, d.String(), currency)
	}
	bi := scaled.BigInt()
	if !bi.IsInt64() {
		return Money{}, ErrOverflow
	}
	return New(bi.Int64(), currency), nil
}

// Decimal 转为十进制表示
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Amount, -Exponent(m.Currency))
}

// String 形如 "37.50 USD"
func (m Money) String() string {
	return m.Decimal().StringFixed(Exponent(m.Currency)) + " " + m.Currency
}

// Format 仅数字部分，形如 "37.50"
func (m Money) Format() string {
	return m.Decimal().StringFixed(Exponent(m.Currency))
}

func (m Money) sameCurrency(o Money) error {
	if m.Currency != o.Currency {
		return fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, o.Currency)
	}
	return nil
}

// Add 加法，检查币种与溢出
func (m Money) Add(o Money) (Money, error) {
	if err := m.sameCurrency(o); err != nil {
		return Money{}, err
	}
	if (o.Amount > 0 && m.Amount > math.MaxInt64-o.Amount) || (o.Amount < 0 && m.Amount < math.MinInt64-o.Amount) {
		return Money{}, ErrOverflow
	}
	return Money{Amount: m.Amount + o.Amount, Currency: m.Currency}, nil
}

// Sub 减法
func (m Money) Sub(o Money) (Money, error) {
	if o.Amount == math.MinInt64 {
		return Money{}, ErrOverflow
	}
	return m.Add(o.Neg())
}

// Neg 取反
func (m Money) Neg() Money {
	return Money{Amount: -m.Amount, Currency: m.Currency}
}

// Cmp 比较，币种不同时返回错误
func (m Money) Cmp(o Money) (int, error) {
	if err := m.sameCurrency(o); err != nil {
		return 0, err
	}
	switch {
	case m.Amount < o.Amount:
		return -1, nil
	case m.Amount > o.Amount:
		return 1, nil
	}
	return 0, nil
}

// IsZero 是否为零
func (m Money) IsZero() bool { return m.Amount == 0 }

// IsPositive 是否大于零
func (m Money) IsPositive() bool { return m.Amount > 0 }

// IsNegative 是否小于零
func (m Money) IsNegative() bool { return m.Amount < 0 }

// MulRateFloor 计算 floor(amount × rate)，仅接受非负金额与非负比例
func (m Money) MulRateFloor(r Rate) (Money, error) {
	if m.Amount < 0 || r < 0 {
		return Money{}, fmt.Errorf("%w: negative operand", ErrInvalidAmount)
	}
	p := new(big.Int).Mul(big.NewInt(m.Amount), big.NewInt(int64(r)))
	p.Quo(p, big.NewInt(RateScale))
	if !p.IsInt64() {
		return Money{}, ErrOverflow
	}
	return Money{Amount: p.Int64(), Currency: m.Currency}, nil
}

// Sum 同币种金额求和
func Sum(currency string, items ...Money) (Money, error) {
	total := Zero(currency)
	var err error
	for _, it := range items {
		if total, err = total.Add(it); err != nil {
			return Money{}, err
		}
	}
	return total, nil
}
