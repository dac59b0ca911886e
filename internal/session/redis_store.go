package session

import (
	"context"
	"encoding/base32"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gorilla/securecookie"
	gsessions "github.com/gorilla/sessions"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

const (
	sessionKeyPrefix = "session:"
	sessionIDBytes   = 32
)

// RedisStore はセッションの値を Redis に保存する sessions.Store 実装です。
// Cookie には署名済みのセッションIDだけを載せます。
type RedisStore struct {
	rdb     redis.Cmdable
	codecs  []securecookie.Codec
	options *gsessions.Options
}

var _ sessions.Store = (*RedisStore)(nil)

// NewRedisStore は RedisStore を作成します。
// keyPairs は securecookie の署名鍵・暗号鍵の組です（暗号鍵は省略可）。
func NewRedisStore(rdb redis.Cmdable, keyPairs ...[]byte) *RedisStore {
	s := &RedisStore{
		rdb:    rdb,
		codecs: securecookie.CodecsFromPairs(keyPairs...),
		options: &gsessions.Options{
			Path:   "/",
			MaxAge: int(DefaultLifetime.Seconds()),
		},
	}
	s.setCodecMaxAge(s.options.MaxAge)
	return s
}

// Options は Cookie とレコードの有効期限を設定します。
func (s *RedisStore) Options(options sessions.Options) {
	s.options = options.ToGorillaOptions()
	s.setCodecMaxAge(s.options.MaxAge)
}

// Get はリクエスト内でキャッシュされたセッションを返します。
func (s *RedisStore) Get(r *http.Request, name string) (*gsessions.Session, error) {
	return gsessions.GetRegistry(r).Get(s, name)
}

// New は Cookie のセッションIDから Redis のレコードを読み込みます。
// Cookie がない・改ざんされている・レコードが期限切れの場合は新しいセッションを返します。
func (s *RedisStore) New(r *http.Request, name string) (*gsessions.Session, error) {
	session := gsessions.NewSession(s, name)
	opts := *s.options
	session.Options = &opts
	session.IsNew = true

	c, err := r.Cookie(name)
	if err != nil {
		return session, nil
	}
	var id string
	if err := securecookie.DecodeMulti(name, c.Value, &id, s.codecs...); err != nil {
		return session, nil
	}

	values, found, err := s.load(r.Context(), id)
	if err != nil {
		return session, err
	}
	if !found {
		return session, nil
	}
	session.ID = id
	session.Values = values
	session.IsNew = false
	return session, nil
}

// Save はセッションを Redis に保存し、署名済みIDを Cookie に書き込みます。
// MaxAge が 0 以下の場合はレコードを削除し、Cookie を失効させます。
func (s *RedisStore) Save(r *http.Request, w http.ResponseWriter, session *gsessions.Session) error {
	ctx := r.Context()

	if session.Options != nil && session.Options.MaxAge <= 0 {
		if session.ID != "" {
			if err := s.rdb.Del(ctx, sessionKey(session.ID)).Err(); err != nil {
				return oops.Code("SESSION_DELETE_FAILED").Wrap(err)
			}
		}
		http.SetCookie(w, gsessions.NewCookie(session.Name(), "", session.Options))
		return nil
	}

	if session.ID == "" {
		session.ID = newSessionID()
	}
	ttl := time.Duration(s.options.MaxAge) * time.Second
	if session.Options != nil {
		ttl = time.Duration(session.Options.MaxAge) * time.Second
	}
	if err := s.store(ctx, session.ID, session.Values, ttl); err != nil {
		return err
	}

	encoded, err := securecookie.EncodeMulti(session.Name(), session.ID, s.codecs...)
	if err != nil {
		return oops.Code("SESSION_ENCODE_FAILED").Wrap(err)
	}
	http.SetCookie(w, gsessions.NewCookie(session.Name(), encoded, session.Options))
	return nil
}

func (s *RedisStore) load(ctx context.Context, id string) (map[interface{}]interface{}, bool, error) {
	data, err := s.rdb.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, oops.Code("SESSION_LOAD_FAILED").Wrap(err)
	}

	var record map[string]interface{}
	if err := json.Unmarshal(data, &record); err != nil {
		// 壊れたレコードは存在しないものとして扱う
		return nil, false, nil
	}
	values := make(map[interface{}]interface{}, len(record))
	for k, v := range record {
		values[k] = v
	}
	return values, true, nil
}

func (s *RedisStore) store(ctx context.Context, id string, values map[interface{}]interface{}, ttl time.Duration) error {
	record := make(map[string]interface{}, len(values))
	for k, v := range values {
		key, ok := k.(string)
		if !ok {
			return oops.Code("SESSION_SAVE_FAILED").Errorf("session key must be a string, got %T", k)
		}
		record[key] = v
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return oops.Code("SESSION_SAVE_FAILED").Wrap(err)
	}
	if err := s.rdb.Set(ctx, sessionKey(id), payload, ttl).Err(); err != nil {
		return oops.Code("SESSION_SAVE_FAILED").Wrap(err)
	}
	return nil
}

func (s *RedisStore) setCodecMaxAge(age int) {
	for _, codec := range s.codecs {
		if sc, ok := codec.(*securecookie.SecureCookie); ok {
			sc.MaxAge(age)
		}
	}
}

func newSessionID() string {
	return strings.TrimRight(base32.StdEncoding.EncodeToString(securecookie.GenerateRandomKey(sessionIDBytes)), "=")
}

func sessionKey(id string) string {
	return fmt.Sprintf("%s%s", sessionKeyPrefix, id)
}
