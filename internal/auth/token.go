package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// tokenBytes はセッショントークンのエントロピー（バイト数）。32バイト = 256ビット。
const tokenBytes = 32

// GenerateToken は暗号的に安全なセッショントークンを生成する。
// ユーザー入力には一切依存せず、URLセーフなbase64（パディングなし）で43文字となる。
func GenerateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
