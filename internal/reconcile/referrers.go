package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/labdesk/labdesk/internal/domain/identity"
	"github.com/labdesk/labdesk/internal/platform/auth"
	"github.com/labdesk/labdesk/internal/platform/lis"
)

type UserStore interface {
	GetByReferrerID(ctx context.Context, referrerID string) (*identity.User, error)
	Create(ctx context.Context, u *identity.User) error
	Update(ctx context.Context, u *identity.User) error
}

type ReferrerSource interface {
	Referrers(ctx context.Context) ([]lis.RemoteReferrer, *lis.Response, error)
}

// Imported referrers get an unusable login until an admin resets it.
const referrerPlaceholderPassword = "referrer-imported-from-lis"

// ReferrerSync mirrors LIS referrers into referrer users.
type ReferrerSync struct {
	users  UserStore
	remote ReferrerSource
	logger zerolog.Logger
	hash   func(string) (string, error)
}

func NewReferrerSync(users UserStore, remote ReferrerSource, logger zerolog.Logger) *ReferrerSync {
	return &ReferrerSync{users: users, remote: remote, logger: logger, hash: identity.HashPassword}
}

func (j *ReferrerSync) Name() string { return JobReferrers }

func (j *ReferrerSync) Run(ctx context.Context) (Result, error) {
	var res Result

	records, resp, err := j.remote.Referrers(ctx)
	res.keep(JobReferrers, resp)
	if err != nil {
		return res, err
	}

	var placeholder string
	for _, rec := range records {
		referrerID := rec.ID.String()
		if referrerID == "" {
			j.logger.Debug().Str("name", rec.Name).Msg("referrer without id, skipping")
			res.Skipped++
			continue
		}

		u, err := j.users.GetByReferrerID(ctx, referrerID)
		switch {
		case err == nil:
			before := u.Clone()
			if rec.BillingInfo != nil {
				u.Metadata = identity.MergeMetadata(u.Metadata, identity.MetaBilling, map[string]any(rec.BillingInfo))
			}
			if rec.ContactInfo != nil {
				u.Metadata = identity.MergeMetadata(u.Metadata, identity.MetaContact, map[string]any(rec.ContactInfo))
			}
			u.Active = bool(rec.IsActive)
			if u.SameAs(before) {
				res.Unchanged++
				continue
			}
			if err := j.users.Update(ctx, u); err != nil {
				return res, fmt.Errorf("update referrer %s: %w", referrerID, err)
			}
			res.Updated++

		case errors.Is(err, identity.ErrNotFound):
			if placeholder == "" {
				if placeholder, err = j.hash(referrerPlaceholderPassword); err != nil {
					return res, err
				}
			}
			u, err := newReferrerUser(rec, referrerID, placeholder)
			if err != nil {
				return res, err
			}
			if err := j.users.Create(ctx, u); err != nil {
				return res, fmt.Errorf("create referrer %s: %w", referrerID, err)
			}
			res.Created++

		default:
			return res, fmt.Errorf("load referrer %s: %w", referrerID, err)
		}
	}
	return res, nil
}

func newReferrerUser(rec lis.RemoteReferrer, referrerID, passwordHash string) (*identity.User, error) {
	token, err := identity.RandomToken(10)
	if err != nil {
		return nil, err
	}
	billing, contact := map[string]any(rec.BillingInfo), map[string]any(rec.ContactInfo)
	if billing == nil {
		billing = map[string]any{}
	}
	if contact == nil {
		contact = map[string]any{}
	}
	return &identity.User{
		Name:          rec.Name,
		Username:      identity.ReferrerUsername(rec.Name, referrerID),
		Email:         rec.Email,
		Mobile:        rec.PhoneNo,
		Password:      passwordHash,
		RememberToken: &token,
		ReferrerID:    &referrerID,
		Role:          auth.RoleReferrer,
		Active:        bool(rec.IsActive),
		Metadata: map[string]any{
			identity.MetaBilling: billing,
			identity.MetaContact: contact,
		},
	}, nil
}
