package prefs

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"dealstream/internal/domain"
)

// RedisPrefs реализует domain.PrefsRepo поверх Redis hash. Каждый флаг
// хранится отдельным полем, поэтому отсутствующие ключи дополняются
// значениями по умолчанию, а неизвестные — игнорируются.
type RedisPrefs struct {
	client *redis.Client
}

// NewRedis создаёт хранилище настроек.
func NewRedis(client *redis.Client) *RedisPrefs {
	return &RedisPrefs{client: client}
}

func prefsKey(userID string) string {
	return "prefs:" + userID
}

// Load читает настройки пользователя, сливая их с дефолтами по ключам.
func (r *RedisPrefs) Load(ctx context.Context, userID string) (domain.Prefs, error) {
	fields, err := r.client.HGetAll(ctx, prefsKey(userID)).Result()
	if err != nil {
		return domain.Prefs{}, fmt.Errorf("чтение настроек: %w", err)
	}
	prefs := domain.DefaultPrefs()
	apply := func(key string, dst *bool) {
		if raw, ok := fields[key]; ok {
			if v, err := strconv.ParseBool(raw); err == nil {
				*dst = v
			}
		}
	}
	apply("sound", &prefs.Sound)
	apply("desktop", &prefs.Desktop)
	apply("email", &prefs.Email)
	apply("push", &prefs.Push)
	return prefs, nil
}

// Save записывает настройки пользователя.
func (r *RedisPrefs) Save(ctx context.Context, userID string, prefs domain.Prefs) error {
	err := r.client.HSet(ctx, prefsKey(userID),
		"sound", strconv.FormatBool(prefs.Sound),
		"desktop", strconv.FormatBool(prefs.Desktop),
		"email", strconv.FormatBool(prefs.Email),
		"push", strconv.FormatBool(prefs.Push),
	).Err()
	if err != nil {
		return fmt.Errorf("сохранение настроек: %w", err)
	}
	return nil
}

var _ domain.PrefsRepo = (*RedisPrefs)(nil)
