// Package telegraminit validates Telegram Mini App init-data, the mechanism
// the admin dashboard uses to authenticate an administrator's Telegram
// identity before issuing a JWT admin session (see pkg/config's
// PRIMARY_ADMIN_IDS/SECONDARY_ADMIN_IDS membership check, applied after
// validation here succeeds).
package telegraminit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dropbot/backend/pkg/errors"
)

// Expiry is the maximum age of init-data Telegram will consider fresh.
const Expiry = 24 * time.Hour

// User represents a Telegram user as embedded in init-data.
type User struct {
	ID           int64  `json:"id"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name,omitempty"`
	Username     string `json:"username,omitempty"`
	LanguageCode string `json:"language_code,omitempty"`
	IsPremium    bool   `json:"is_premium,omitempty"`
	PhotoURL     string `json:"photo_url,omitempty"`
}

// InitData is parsed Telegram Mini App init-data.
type InitData struct {
	QueryID    string `json:"query_id,omitempty"`
	User       *User  `json:"user,omitempty"`
	AuthDate   int64  `json:"auth_date"`
	Hash       string `json:"hash"`
	StartParam string `json:"start_param,omitempty"`
}

// Validate validates Telegram Mini App init-data against the bot token that
// issued it.
// See: https://core.telegram.org/bots/webapps#validating-data-received-via-the-mini-app
func Validate(initData string, botToken string) (*InitData, error) {
	if initData == "" {
		return nil, errors.ErrBadRequest.WithMessage("missing init data")
	}

	values, err := url.ParseQuery(initData)
	if err != nil {
		return nil, errors.ErrBadRequest.WithCause(err).WithMessage("invalid init data")
	}

	authDateStr := values.Get("auth_date")
	authDate, err := strconv.ParseInt(authDateStr, 10, 64)
	if err != nil {
		return nil, errors.ErrBadRequest.WithMessage("invalid auth_date")
	}

	if time.Now().Unix()-authDate > int64(Expiry.Seconds()) {
		return nil, errors.ErrExpiredToken.WithMessage("init data expired")
	}

	hash := values.Get("hash")
	if hash == "" {
		return nil, errors.ErrBadRequest.WithMessage("missing hash")
	}

	values.Del("hash")
	dataCheckString := buildDataCheckString(values)
	expectedHash := calculateHash(dataCheckString, botToken)

	if !hmac.Equal([]byte(hash), []byte(expectedHash)) {
		return nil, errors.ErrUnauthorized.WithMessage("invalid init data hash")
	}

	result := &InitData{
		AuthDate:   authDate,
		Hash:       hash,
		QueryID:    values.Get("query_id"),
		StartParam: values.Get("start_param"),
	}

	if userStr := values.Get("user"); userStr != "" {
		var user User
		if err := json.Unmarshal([]byte(userStr), &user); err != nil {
			return nil, errors.ErrBadRequest.WithCause(err).WithMessage("invalid embedded user")
		}
		result.User = &user
	}

	return result, nil
}

func buildDataCheckString(values url.Values) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if v := values.Get(k); v != "" {
			parts = append(parts, fmt.Sprintf("%s=%s", k, v))
		}
	}

	return strings.Join(parts, "\n")
}

func calculateHash(dataCheckString, botToken string) string {
	secretKey := hmac.New(sha256.New, []byte("WebAppData"))
	secretKey.Write([]byte(botToken))

	h := hmac.New(sha256.New, secretKey.Sum(nil))
	h.Write([]byte(dataCheckString))

	return hex.EncodeToString(h.Sum(nil))
}
