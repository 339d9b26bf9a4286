// Package auth 提供口令哈希协作方：生成盐、计算哈希、校验口令。
//
// 使用 Argon2id，并以标准 PHC 字符串存储
// （$argon2id$v=19$m=...,t=...,p=...$salt$hash），盐随用户随机生成。
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	saltLen    = 16
	keyLen     = 32
	argonTime  = 1
	argonMem   = 64 * 1024 // KiB
	argonProcs = 4
)

// GenerateSalt 生成每用户独立的随机盐。
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// Hash 用给定的盐计算口令的 Argon2id 哈希，返回 PHC 编码串。
func Hash(password string, salt []byte) string {
	key := argon2.IDKey([]byte(password), salt, argonTime, argonMem, argonProcs, keyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMem, argonTime, argonProcs,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)
}

// Verify 校验明文口令是否与存储的 PHC 哈希匹配。
// 哈希串格式非法时一律返回 false。
func Verify(encoded, password string) bool {
	salt, key, params, err := decode(encoded)
	if err != nil {
		return false
	}
	probe := argon2.IDKey([]byte(password), salt, params.time, params.mem, params.procs, uint32(len(key)))
	return subtle.ConstantTimeCompare(key, probe) == 1
}

type argonParams struct {
	mem   uint32
	time  uint32
	procs uint8
}

func decode(encoded string) (salt, key []byte, params argonParams, err error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return nil, nil, params, errors.New("malformed hash")
	}

	var version int
	if _, err = fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return nil, nil, params, err
	}
	if version != argon2.Version {
		return nil, nil, params, errors.New("unsupported argon2 version")
	}
	if _, err = fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.mem, &params.time, &params.procs); err != nil {
		return nil, nil, params, err
	}

	salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, nil, params, err
	}
	key, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, nil, params, err
	}
	return salt, key, params, nil
}
