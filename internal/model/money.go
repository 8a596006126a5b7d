package model

import "github.com/shopspring/decimal"

// MoneyScale 金额固定 6 位小数，数据库以微单位整数存储
const MoneyScale = 6

// MicrosToDecimal 微单位整数转为金额
func MicrosToDecimal(micros int64) decimal.Decimal {
	return decimal.New(micros, -MoneyScale)
}

// DecimalToMicros 金额转为微单位整数，超出 6 位的部分四舍五入
func DecimalToMicros(d decimal.Decimal) int64 {
	return d.Round(MoneyScale).Shift(MoneyScale).IntPart()
}
