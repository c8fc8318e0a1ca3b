package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/simplyconnect/internal/auth"
	"github.com/hitoshi/simplyconnect/internal/model"
	"github.com/hitoshi/simplyconnect/internal/repository"
)

var (
	errIdentityWithoutPhone = errors.New("identity has no phone number")
	errBypassDisabled       = errors.New("bypass identities are not configured")
	errUnknownBypassUser    = errors.New("unknown bypass identity")
)

// resolve はイベントの種類に応じた解決処理を行う。ループ外のゴルーチンで実行される。
// 永続化の副作用はここで行い、状態の変更は結果としてループに返す。
func (c *Controller) resolve(ctx context.Context, ev *event) *result {
	switch ev.kind {
	case eventBootstrap:
		return c.resolveBootstrap(ctx)
	case eventBypass:
		return c.resolveBypass(ctx, ev.identity)
	case eventSignOut:
		res := c.resolveAbsent(ctx)
		res.explicit = true
		return res
	default:
		if ev.identity == nil {
			return c.resolveAbsent(ctx)
		}
		return c.resolveIdentity(ctx, ev.identity)
	}
}

// resolveAbsent はID消失時にセッションレコードを削除する。ドキュメントストアは参照しない。
func (c *Controller) resolveAbsent(ctx context.Context) *result {
	if err := c.local.Remove(ctx, c.recordKey); err != nil {
		if ctx.Err() != nil {
			return &result{outcome: outcomeCanceled}
		}
		c.logger.Warn("failed to remove session record", slog.String("error", err.Error()))
	}
	return &result{outcome: outcomeUnauthenticated}
}

// resolveIdentity はIDに対応するプロフィールを電話番号で検索し、
// 見つからなければIDをドキュメントIDとして検索、それでも無ければ作成する。
func (c *Controller) resolveIdentity(ctx context.Context, identity *model.IdentityHandle) *result {
	if identity.PhoneNumber == "" {
		return c.fail(ctx, errIdentityWithoutPhone)
	}

	doc, err := c.docs.FindOne(ctx, model.UsersCollection, model.FieldPhoneNumber, identity.PhoneNumber)
	if err != nil {
		return c.fail(ctx, fmt.Errorf("failed to find profile by phone number: %w", err))
	}
	if doc == nil {
		doc, err = c.docs.Get(ctx, model.UsersCollection, identity.ID)
		if err != nil {
			return c.fail(ctx, fmt.Errorf("failed to get profile by identity id: %w", err))
		}
	}
	created := false
	if doc == nil {
		doc, err = c.createDocument(ctx, identity.ID, model.NewProfileFields(identity.PhoneNumber, c.now()))
		if err != nil {
			return c.fail(ctx, fmt.Errorf("failed to create profile: %w", err))
		}
		created = true
	}

	profile, err := model.ProfileFromDocument(doc)
	if err != nil {
		return c.fail(ctx, err)
	}

	record := model.PersistedSessionRecord{ID: profile.ID, PhoneNumber: identity.PhoneNumber}
	if err := c.persist(ctx, record); err != nil {
		return c.fail(ctx, err)
	}

	c.logger.Info("profile resolved",
		slog.String("profile_id", profile.ID),
		slog.String("phone_number", auth.MaskPhoneNumber(identity.PhoneNumber)),
		slog.Bool("created", created),
	)
	return &result{outcome: outcomeAuthenticated, identity: identity, profile: profile}
}

// resolveBootstrap は起動時にセッションレコードを読み、
// バイパスセッションであればそのプロフィールを採用する。
// 通常のセッションはIDプロバイダーの通知に任せる。
func (c *Controller) resolveBootstrap(ctx context.Context) *result {
	raw, ok, err := c.local.Get(ctx, c.recordKey)
	if err != nil {
		return c.skip(ctx, fmt.Errorf("failed to read session record: %w", err))
	}
	if !ok {
		return &result{outcome: outcomeSkipped}
	}

	record, err := model.DecodeSessionRecord(raw)
	if err != nil {
		c.removeRecord(ctx)
		return c.skip(ctx, err)
	}
	if !record.IsTestUser {
		return &result{outcome: outcomeSkipped}
	}
	if c.bypass == nil {
		c.logger.Info("ignoring bypass session record", slog.String("reason", errBypassDisabled.Error()))
		return &result{outcome: outcomeSkipped}
	}

	user, ok := c.bypass.LookupID(record.ID)
	if !ok {
		c.removeRecord(ctx)
		return c.skip(ctx, fmt.Errorf("%w: %s", errUnknownBypassUser, record.ID))
	}

	profile, err := c.ensureBypassProfile(ctx, user)
	if err != nil {
		return c.skip(ctx, err)
	}

	c.logger.Info("bypass session restored", slog.String("profile_id", profile.ID))
	return &result{outcome: outcomeAuthenticated, profile: profile}
}

// resolveBypass は対話的なバイパスログインを処理する。
// 失敗は呼び出し元に返し、セッション状態は変更しない。
func (c *Controller) resolveBypass(ctx context.Context, identity *model.IdentityHandle) *result {
	rejected := func(err error) *result {
		res := c.skip(ctx, err)
		if res.outcome != outcomeCanceled {
			res.callerErr = model.NewResolutionFailedError()
		}
		return res
	}

	if c.bypass == nil {
		return rejected(errBypassDisabled)
	}
	user, ok := c.bypass.LookupID(identity.ID)
	if !ok {
		return rejected(fmt.Errorf("%w: %s", errUnknownBypassUser, identity.ID))
	}

	profile, err := c.ensureBypassProfile(ctx, user)
	if err != nil {
		return rejected(err)
	}

	record := model.PersistedSessionRecord{ID: profile.ID, PhoneNumber: user.PhoneNumber, IsTestUser: true}
	if err := c.persist(ctx, record); err != nil {
		return rejected(err)
	}

	c.logger.Info("bypass identity adopted", slog.String("profile_id", profile.ID))
	return &result{outcome: outcomeAuthenticated, profile: profile}
}

// ensureBypassProfile はバイパスユーザーのドキュメントを取得し、無ければ作成する。
func (c *Controller) ensureBypassProfile(ctx context.Context, user auth.BypassUser) (*model.UserProfile, error) {
	doc, err := c.docs.Get(ctx, model.UsersCollection, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get bypass profile: %w", err)
	}
	if doc == nil {
		doc, err = c.createDocument(ctx, user.ID, user.ProfileFields(c.now()))
		if err != nil {
			return nil, fmt.Errorf("failed to create bypass profile: %w", err)
		}
	}
	return model.ProfileFromDocument(doc)
}

// createDocument はドキュメントを作成する。
// 同じIDが並行して作成済みだった場合は既存のドキュメントを返す。
func (c *Controller) createDocument(ctx context.Context, id string, fields map[string]any) (*model.Document, error) {
	createdID, err := c.docs.Create(ctx, model.UsersCollection, id, fields)
	if errors.Is(err, repository.ErrDocumentExists) {
		doc, getErr := c.docs.Get(ctx, model.UsersCollection, id)
		if getErr != nil {
			return nil, getErr
		}
		if doc == nil {
			return nil, err
		}
		return doc, nil
	}
	if err != nil {
		return nil, err
	}
	return &model.Document{Collection: model.UsersCollection, ID: createdID, Fields: fields}, nil
}

func (c *Controller) persist(ctx context.Context, record model.PersistedSessionRecord) error {
	raw, err := record.Encode()
	if err != nil {
		return err
	}
	if err := c.local.Set(ctx, c.recordKey, raw); err != nil {
		return fmt.Errorf("failed to persist session record: %w", err)
	}
	return nil
}

func (c *Controller) removeRecord(ctx context.Context) {
	if err := c.local.Remove(ctx, c.recordKey); err != nil && ctx.Err() == nil {
		c.logger.Warn("failed to remove session record", slog.String("error", err.Error()))
	}
}

// fail は解決失敗の結果を返す。取り消された解決処理は副作用なしで破棄する。
func (c *Controller) fail(ctx context.Context, cause error) *result {
	if ctx.Err() != nil {
		return &result{outcome: outcomeCanceled, cause: cause}
	}
	c.removeRecord(ctx)
	return &result{outcome: outcomeFailed, signOut: true, cause: cause}
}

func (c *Controller) skip(ctx context.Context, cause error) *result {
	if ctx.Err() != nil {
		return &result{outcome: outcomeCanceled, cause: cause}
	}
	return &result{outcome: outcomeSkipped, cause: cause}
}
