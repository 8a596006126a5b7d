package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"math/big"
	"strings"

	"golang.org/x/crypto/hkdf"
)

var ErrEncryptionKeyNotSet = errors.New("encryption key not configured")

// encPrefix 标记已加密的字段，避免对明文重复解密
const encPrefix = "enc:v1:"

// DeriveKey 由配置的口令派生 AES-256 密钥，口令为空时返回 nil
func DeriveKey(secret string) ([]byte, error) {
	if secret == "" {
		return nil, nil
	}
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte("aigateway provider credentials"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

func Encrypt(plaintext []byte, key []byte) (string, error) {
	if len(key) == 0 {
		return "", ErrEncryptionKeyNotSet
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return encPrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

func Decrypt(ciphertext string, key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, ErrEncryptionKeyNotSet
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(ciphertext, encPrefix))
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(data) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce, ciphertextBytes := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertextBytes, nil)
}

func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, encPrefix)
}

// SealString 有密钥时加密，否则原样返回
func SealString(value string, key []byte) (string, error) {
	if len(key) == 0 || value == "" || IsEncrypted(value) {
		return value, nil
	}
	return Encrypt([]byte(value), key)
}

// OpenString 解密 SealString 的结果；明文直接返回
func OpenString(value string, key []byte) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}
	plain, err := Decrypt(value, key)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

const apiKeyAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateAPIKey 生成 prefix + n 位字母数字的随机密钥
func GenerateAPIKey(prefix string, n int) (string, error) {
	var sb strings.Builder
	sb.Grow(len(prefix) + n)
	sb.WriteString(prefix)
	limit := big.NewInt(int64(len(apiKeyAlphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		sb.WriteByte(apiKeyAlphabet[idx.Int64()])
	}
	return sb.String(), nil
}
