package provider

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenExpirySkew 提前判定过期的时间余量
const tokenExpirySkew = 30 * time.Second

// TokenExpired 判断服务商签发的令牌是否已过期。
//
// 只解析不验签；无法解析或不含 exp 的令牌视为未过期，由服务端返回 401 决定。
func TokenExpired(token string, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !now.Add(tokenExpirySkew).Before(exp.Time)
}
