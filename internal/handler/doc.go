// Package handler 下按业务拆分子包：settlement、ledger、payout、partner、webhook、admin。
//
// 本文件让 swag init --dir ./internal/handler 能把该目录识别为 Go 包。
package handler
