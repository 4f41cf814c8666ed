package auth

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/repository"
)

// AttemptLimiter はログイン試行を制限するインターフェース。
// ratelimit.SlidingWindowLimiterの部分集合として定義する。
type AttemptLimiter interface {
	// Check は試行をアトミックに判定・記録する。
	// 拒否時は再試行可能になるまでの時間を返す。
	Check(key string) (retryAfter time.Duration, ok bool)
	// Reset はキーの試行履歴を無条件にクリアする。
	Reset(key string)
}

// MetricsRecorder は認証フローのメトリクス記録インターフェース。
type MetricsRecorder interface {
	RecordRegistration()
	RecordLoginSuccess()
	RecordLoginFailure()
	RecordRateLimitRejection(keyspace string)
	RecordTokenIssued()
	ObserveHashDuration(d time.Duration)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	JWTSecret     string
	JWTExpiration time.Duration
}

// Service は認証に関するビジネスロジックを提供する。
// パスワードハッシュ・トークン発行・レート制限を組み合わせ、
// 登録・ログイン・OAuthコールバック・プロフィール取得の各フローを実行する。
type Service struct {
	oauth        OAuthProvider
	userRepo     repository.UserRepository
	ipLimiter    AttemptLimiter
	emailLimiter AttemptLimiter
	metrics      MetricsRecorder
	config       ServiceConfig
}

// NewService はServiceを生成する。
// ipLimiterはクライアントIP単位（単一IPからの総当たり対策）、
// emailLimiterは対象メールアドレス単位（分散型のパスワードリスト攻撃対策）で
// それぞれ独立に運用する。metricsはnil可。
func NewService(
	oauth OAuthProvider,
	userRepo repository.UserRepository,
	ipLimiter AttemptLimiter,
	emailLimiter AttemptLimiter,
	metrics MetricsRecorder,
	config ServiceConfig,
) *Service {
	return &Service{
		oauth:        oauth,
		userRepo:     userRepo,
		ipLimiter:    ipLimiter,
		emailLimiter: emailLimiter,
		metrics:      metrics,
		config:       config,
	}
}

// AuthResult は認証成功時のレスポンスペイロード。
type AuthResult struct {
	Token string
	User  model.UserSummary
}

// Register は新規ユーザーを登録し、トークンを発行する。
// メールアドレスの一意性はストアのUNIQUE制約で保証される。
// 登録にはレート制限を適用しない。
func (s *Service) Register(ctx context.Context, email, password, name string) (*AuthResult, error) {
	hashStart := time.Now()
	passwordHash, err := HashPassword(password)
	if err != nil {
		slog.Error("password hashing failed", slog.String("error", err.Error()))
		return nil, model.NewInternalError()
	}
	s.observeHash(time.Since(hashStart))

	now := time.Now()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         name,
		PasswordHash: &passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, model.NewDuplicateEmailError()
		}
		slog.Error("failed to create user", slog.String("error", err.Error()))
		return nil, model.NewInternalError()
	}

	if s.metrics != nil {
		s.metrics.RecordRegistration()
	}

	slog.Info("user registered",
		slog.String("user_id", user.ID),
		slog.String("email", email),
	)

	return s.issueToken(user)
}

// Login はパスワードでユーザーを認証し、トークンを発行する。
//
// ゲート順序: IPリミッター → メールリミッター → ユーザー検索 → パスワード検証。
// どちらのリミッターも通過しなければ認証情報の検証は行わない。
// 成功時はメール側カウンタのみリセットする（正規ユーザーが自分の失敗試行で
// 締め出されないようにする）。IP側は成否に関わらずリセットしない。
// メール不存在とパスワード不一致は同一のUnauthorizedを返し、
// アカウントの存在有無を漏らさない。
func (s *Service) Login(ctx context.Context, email, password, clientIP string) (*AuthResult, error) {
	if retryAfter, ok := s.ipLimiter.Check(clientIP); !ok {
		slog.Warn("login rate limit exceeded",
			slog.String("keyspace", "ip"),
			slog.String("client_ip", clientIP),
		)
		s.recordRateLimitRejection("ip")
		return nil, model.NewTooManyRequestsError(retryAfterSeconds(retryAfter))
	}

	if retryAfter, ok := s.emailLimiter.Check(email); !ok {
		slog.Warn("login rate limit exceeded",
			slog.String("keyspace", "email"),
			slog.String("email", email),
		)
		s.recordRateLimitRejection("email")
		return nil, model.NewTooManyRequestsError(retryAfterSeconds(retryAfter))
	}

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		slog.Error("failed to find user by email", slog.String("error", err.Error()))
		return nil, model.NewInternalError()
	}
	if user == nil {
		slog.Warn("login attempt for unknown email", slog.String("client_ip", clientIP))
		s.recordLoginFailure()
		return nil, model.NewUnauthorizedError()
	}

	if !user.HasPassword() {
		// OAuth専用アカウントへのパスワードログインは入力不正として扱う
		s.recordLoginFailure()
		return nil, model.NewOAuthOnlyAccountError()
	}

	hashStart := time.Now()
	ok, err := VerifyPassword(password, *user.PasswordHash)
	s.observeHash(time.Since(hashStart))
	if err != nil {
		// ハッシュ文字列が解析不能（ストレージ破損）。内部エラーとして扱う。
		slog.Error("stored credential is unparsable",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewInternalError()
	}
	if !ok {
		slog.Warn("failed login attempt",
			slog.String("user_id", user.ID),
			slog.String("client_ip", clientIP),
		)
		s.recordLoginFailure()
		return nil, model.NewUnauthorizedError()
	}

	// ログイン成功: メール側カウンタのみリセットする
	s.emailLimiter.Reset(email)

	if s.metrics != nil {
		s.metrics.RecordLoginSuccess()
	}

	slog.Info("successful login",
		slog.String("user_id", user.ID),
		slog.String("client_ip", clientIP),
	)

	return s.issueToken(user)
}

// HandleOAuthCallback は認可コードを交換し、ユーザーを特定してトークンを発行する。
// (provider, provider側ユーザーID)で未登録の場合はパスワードなしの
// ローカルユーザーを自動作成する。このパスにはレート制限を適用しない。
func (s *Service) HandleOAuthCallback(ctx context.Context, code string) (*AuthResult, error) {
	profile, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		slog.Error("oauth code exchange failed", slog.String("error", err.Error()))
		return nil, model.NewInternalError()
	}

	user, err := s.userRepo.FindByOAuth(ctx, profile.Provider, profile.ProviderUserID)
	if err != nil {
		slog.Error("failed to find user by oauth identity", slog.String("error", err.Error()))
		return nil, model.NewInternalError()
	}

	if user == nil {
		now := time.Now()
		user = &model.User{
			ID:            uuid.New().String(),
			Email:         profile.Email,
			Name:          profile.Name,
			OAuthProvider: &profile.Provider,
			OAuthID:       &profile.ProviderUserID,
			CreatedAt:     now,
			UpdatedAt:     now,
		}

		if err := s.userRepo.Create(ctx, user); err != nil {
			if errors.Is(err, repository.ErrDuplicateEmail) {
				return nil, model.NewDuplicateEmailError()
			}
			slog.Error("failed to create oauth user", slog.String("error", err.Error()))
			return nil, model.NewInternalError()
		}

		if s.metrics != nil {
			s.metrics.RecordRegistration()
		}

		slog.Info("new oauth user created",
			slog.String("user_id", user.ID),
			slog.String("provider", profile.Provider),
		)
	} else {
		slog.Info("existing oauth user logged in",
			slog.String("user_id", user.ID),
			slog.String("provider", profile.Provider),
		)
	}

	return s.issueToken(user)
}

// GetProfile はユーザーIDからプロフィールを取得する。
// トークンの検証はミドルウェアで完了している前提。
// 対象が存在しない場合（トークンは有効だがユーザーが消えている）はNotFound。
func (s *Service) GetProfile(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		slog.Error("failed to find user by id", slog.String("error", err.Error()))
		return nil, model.NewInternalError()
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	return user, nil
}

// AuthorizationURL はOAuth認証URLを生成する。
func (s *Service) AuthorizationURL(state string) string {
	return s.oauth.AuthorizationURL(state)
}

// issueToken はユーザーに対するセッショントークンを発行する。
func (s *Service) issueToken(user *model.User) (*AuthResult, error) {
	token, err := GenerateToken(user.ID, user.Email, user.Name, s.config.JWTSecret, s.config.JWTExpiration)
	if err != nil {
		slog.Error("token generation failed",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewInternalError()
	}

	if s.metrics != nil {
		s.metrics.RecordTokenIssued()
	}

	return &AuthResult{
		Token: token,
		User:  user.Summary(),
	}, nil
}

func (s *Service) observeHash(d time.Duration) {
	if s.metrics != nil {
		s.metrics.ObserveHashDuration(d)
	}
}

func (s *Service) recordLoginFailure() {
	if s.metrics != nil {
		s.metrics.RecordLoginFailure()
	}
}

func (s *Service) recordRateLimitRejection(keyspace string) {
	if s.metrics != nil {
		s.metrics.RecordRateLimitRejection(keyspace)
	}
}

// retryAfterSeconds は再試行待ち時間を秒数に切り上げる。
// Retry-Afterヘッダーとレスポンスのヒントに使う。
func retryAfterSeconds(d time.Duration) int {
	sec := int(math.Ceil(d.Seconds()))
	if sec < 1 {
		sec = 1
	}
	return sec
}
