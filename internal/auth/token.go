// Пакет auth — выпуск и проверка токенов доступа портала.
//
// Токены подписываются HS256. Ключи хранятся в jwkset (memory storage)
// с kid, вычисленным из секрета; проверка идёт через keyfunc. Предыдущий
// секрет (ротация) принимается для проверки, но не для выпуска.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken — токен не прошёл проверку.
var ErrInvalidToken = errors.New("невалидный или просроченный токен")

// Config — параметры выпуска токенов.
type Config struct {
	// Secret — текущий ключ подписи
	Secret string
	// PreviousSecret — ключ до ротации (опционально)
	PreviousSecret string
	// Issuer — значение iss
	Issuer string
	// TTL — время жизни токена
	TTL time.Duration
	// Leeway — допустимое расхождение часов
	Leeway time.Duration
}

// Identity — данные пользователя, попадающие в токен.
type Identity struct {
	UserID      string
	Username    string
	Name        string
	Role        string
	Departments []string
	Permissions []string
}

// Claims — claims токена портала. sub — логин пользователя.
type Claims struct {
	jwt.RegisteredClaims
	UserID      string   `json:"uid"`
	Name        string   `json:"name,omitempty"`
	Role        string   `json:"role"`
	Departments []string `json:"depts"`
	Permissions []string `json:"permissions"`
}

// Manager выпускает и проверяет токены.
type Manager struct {
	issuer string
	ttl    time.Duration
	leeway time.Duration
	kid    string
	secret []byte
	keys   keyfunc.Keyfunc
	now    func() time.Time
}

// NewManager создаёт Manager и загружает ключи в jwkset.
func NewManager(ctx context.Context, cfg Config) (*Manager, error) {
	if cfg.Secret == "" {
		return nil, errors.New("пустой секрет подписи")
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("недопустимое время жизни токена %s", cfg.TTL)
	}

	storage := jwkset.NewMemoryStorage()
	secrets := []string{cfg.Secret}
	if cfg.PreviousSecret != "" && cfg.PreviousSecret != cfg.Secret {
		secrets = append(secrets, cfg.PreviousSecret)
	}
	for _, s := range secrets {
		jwk, err := jwkset.NewJWKFromKey([]byte(s), jwkset.JWKOptions{
			Marshal: jwkset.JWKMarshalOptions{Private: true},
			Metadata: jwkset.JWKMetadataOptions{
				ALG: jwkset.AlgHS256,
				KID: KeyID(s),
				USE: jwkset.UseSig,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("создание JWK: %w", err)
		}
		if err := storage.KeyWrite(ctx, jwk); err != nil {
			return nil, fmt.Errorf("запись JWK: %w", err)
		}
	}

	k, err := keyfunc.New(keyfunc.Options{Ctx: ctx, Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	return &Manager{
		issuer: cfg.Issuer,
		ttl:    cfg.TTL,
		leeway: cfg.Leeway,
		kid:    KeyID(cfg.Secret),
		secret: []byte(cfg.Secret),
		keys:   k,
		now:    time.Now,
	}, nil
}

// KeyID вычисляет kid секрета: первые 8 байт SHA-256 в hex.
func KeyID(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:8])
}

// TTL возвращает время жизни выпускаемых токенов.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Issue выпускает токен и возвращает момент его истечения.
func (m *Manager) Issue(id Identity) (string, time.Time, error) {
	now := m.now().UTC()
	expiresAt := now.Add(m.ttl)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   id.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UserID:      id.UserID,
		Name:        id.Name,
		Role:        id.Role,
		Departments: nonNil(id.Departments),
		Permissions: nonNil(id.Permissions),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = m.kid
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("подпись токена: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify проверяет подпись, срок и issuer токена.
func (m *Manager) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(m.leeway),
		jwt.WithTimeFunc(m.now),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, m.keys.KeyfuncCtx(ctx), opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
