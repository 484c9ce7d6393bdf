package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// RateScale 比例精度：百万分之一
const RateScale = 1_000_000

// ErrInvalidRate 比例无法解析或精度超出百万分之一
var ErrInvalidRate = errors.New("money: invalid rate")

// Rate 以百万分比（ppm）表示的比例，1_000_000 即 100%
type Rate int64

// 常用比例
const (
	RateZero Rate = 0
	RateOne  Rate = RateScale
)

// ParseRate 解析十进制比例字符串，如 "0.05"
func ParseRate(s string) (Rate, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidRate, s)
	}
	return RateFromDecimal(d)
}

// MustParseRate 解析失败时 panic，仅用于常量初始化与测试
func MustParseRate(s string) Rate {
	r, err := ParseRate(s)
	if err != nil {
		panic(err)
	}
	return r
}

// RateFromDecimal 从十进制数构造比例
func RateFromDecimal(d decimal.Decimal) (Rate, error) {
	scaled := d.Shift(6)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s exceeds ppm precision", ErrInvalidRate, d.String())
	}
	bi := scaled.BigInt()
	if !bi.IsInt64() {
		return 0, fmt.Errorf("%w: %s out of range", ErrInvalidRate, d.String())
	}
	return Rate(bi.Int64()), nil
}

// Decimal 转为十进制表示
func (r Rate) Decimal() decimal.Decimal {
	return decimal.New(int64(r), -6)
}

// String 形如 "0.05"
func (r Rate) String() string {
	return r.Decimal().String()
}

// Between 是否落在闭区间 [min, max] 内
func (r Rate) Between(min, max Rate) bool {
	return r >= min && r <= max
}

// IsFraction 是否落在 [0, 1] 内
func (r Rate) IsFraction() bool {
	return r.Between(RateZero, RateOne)
}

// PPM 返回百万分比整数值，便于持久化
func (r Rate) PPM() int64 {
	return int64(r)
}
