package respond

import (
	"regexp"
)

var (
	// チャットボットトークン（"<bot id>:<secret>"）
	botTokenPattern = regexp.MustCompile(`\b(\d{6,}):[A-Za-z0-9_-]{30,}`)
	// bot APIのURLパスに埋め込まれたトークン
	botURLPattern = regexp.MustCompile(`/bot[^/\s]+/`)

	// プッシュ送信のサーバーキー
	pushKeyPattern = regexp.MustCompile(`AAAA[A-Za-z0-9_-]{20,}:[A-Za-z0-9_-]{20,}`)

	// DSN / SMTP URL 内のパスワード
	dsnPasswordPattern = regexp.MustCompile(`://([^:/\s]+):([^@\s]+)@`)
)

// SanitizeError は機密情報をマスクしたエラーメッセージを返す
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}

	msg := err.Error()

	msg = botURLPattern.ReplaceAllString(msg, "/bot****/")
	msg = botTokenPattern.ReplaceAllString(msg, "$1:****")
	msg = pushKeyPattern.ReplaceAllString(msg, "AAAA****")
	msg = dsnPasswordPattern.ReplaceAllString(msg, "://$1:****@")

	return msg
}
