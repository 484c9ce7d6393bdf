// Package crypto 提供推广码与推荐码生成、敏感信息脱敏
package crypto

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"math/big"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// codeAlphabet 排除易混淆字符 0OI1，恰好 32 个字符
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

var codeEncoding = base32.NewEncoding(codeAlphabet).WithPadding(base32.NoPadding)

// ErrInvalidKey 派生密钥为空或超过 64 字节
var ErrInvalidKey = errors.New("crypto: key must be 1-64 bytes")

// CodeDeriver 用带密钥的 BLAKE2b 从数字 ID 派生稳定的短码
//
// 同一 ID 始终得到同一短码；没有密钥无法由短码反推或枚举 ID。
type CodeDeriver struct {
	key []byte
}

// NewCodeDeriver 创建短码派生器
func NewCodeDeriver(key string) (*CodeDeriver, error) {
	if len(key) == 0 || len(key) > blake2b.Size {
		return nil, ErrInvalidKey
	}
	return &CodeDeriver{key: []byte(key)}, nil
}

// Derive 派生 prefix + 10 位短码
func (d *CodeDeriver) Derive(prefix string, id int64) string {
	h, err := blake2b.New256(d.key)
	if err != nil {
		// 密钥长度已在构造时校验
		panic(err)
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(id))
	h.Write([]byte(prefix))
	h.Write(buf[:])
	return prefix + codeEncoding.EncodeToString(h.Sum(nil))[:10]
}

// RandomCode 生成随机短码
func RandomCode(prefix string, length int) (string, error) {
	var sb strings.Builder
	sb.WriteString(prefix)
	size := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", err
		}
		sb.WriteByte(codeAlphabet[n.Int64()])
	}
	return sb.String(), nil
}

// MaskPhone 手机号脱敏
func MaskPhone(phone string) string {
	if len(phone) != 11 {
		return phone
	}
	return phone[:3] + "****" + phone[7:]
}

// MaskAccount 收款账户脱敏，仅保留末 4 位
func MaskAccount(ref string) string {
	if len(ref) <= 4 {
		return ref
	}
	return strings.Repeat("*", len(ref)-4) + ref[len(ref)-4:]
}
