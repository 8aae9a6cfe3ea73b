// Package model はドメインモデルを定義する。
package model

import "time"

// User はアカウントの正規の識別レコードを表す。
// Phoneは全ユーザーで一意。ExternalOAuthIDは設定されている場合のみ一意で、
// 初回のOAuthログイン時に一度だけ設定され、以後変更されない。
type User struct {
	ID              int64
	Phone           string
	FirstName       string
	LastName        string
	ExternalOAuthID *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Session は有効なベアラートークンによる認証付与を表す。
// 作成後は変更されず、有効性はExpiresAtと現在時刻の比較のみで決まる。
type Session struct {
	UserID    int64
	Token     string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// ValidAt は指定時刻においてセッションが有効かどうかを返す。
func (s *Session) ValidAt(now time.Time) bool {
	return s.ExpiresAt.After(now)
}

// PlaceholderPhonePrefix は電話番号を共有しないOAuthアカウントに合成する電話番号の接頭辞。
const PlaceholderPhonePrefix = "yandex_"

// PlaceholderPhone は外部IDから決定的なプレースホルダー電話番号を生成する。
func PlaceholderPhone(externalID string) string {
	return PlaceholderPhonePrefix + externalID
}
