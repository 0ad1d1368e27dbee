//go:build integration

package integration

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/labdesk/labdesk/internal/domain/identity"
	"github.com/labdesk/labdesk/internal/platform/auth"
	"github.com/labdesk/labdesk/internal/platform/events"
	"github.com/labdesk/labdesk/internal/reconcile"
)

func TestReferrerSync_AgainstPostgres(t *testing.T) {
	ctx := context.Background()
	pool := schemaPool(t, "referrers")
	remote, client := newLIS(t)
	remote.body("GET /api/referrers", `[{"id":17,"name":"Dr. Zoë Ortiz","email":"zoe@clinic.test","phoneNo":"0301234",
		"isActive":true,"billingInfo":{"iban":"DE00"},"contactInfo":null}]`)

	users := identity.NewUserRepoPG(pool)
	job := reconcile.NewReferrerSync(users, client, zerolog.Nop())
	runner := newRunner(pool, events.NopPublisher{})

	res, err := runner.Run(ctx, job)
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if res.Created != 1 {
		t.Fatalf("expected 1 created, got %+v", res)
	}
	u, err := users.GetByReferrerID(ctx, "17")
	if err != nil {
		t.Fatalf("load referrer: %v", err)
	}
	if u.Username != "dr-zoe-ortiz.17" || u.Role != auth.RoleReferrer || !u.Active {
		t.Errorf("unexpected user: %+v", u)
	}
	if identity.CheckPassword(u.Password, "") {
		t.Error("placeholder password must not be empty")
	}

	remote.body("GET /api/referrers", `[{"id":17,"name":"Dr. Zoë Ortiz","isActive":false,
		"billingInfo":{"bic":"MARKDEF1"},"contactInfo":{"fax":"0309999"}}]`)
	res, err = runner.Run(ctx, job)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if res.Updated != 1 {
		t.Errorf("expected 1 updated, got %+v", res)
	}
	u, _ = users.GetByReferrerID(ctx, "17")
	billing, _ := u.Metadata[identity.MetaBilling].(map[string]any)
	if billing["iban"] != "DE00" || billing["bic"] != "MARKDEF1" {
		t.Errorf("billing not merged: %v", billing)
	}
	contact, _ := u.Metadata[identity.MetaContact].(map[string]any)
	if contact["fax"] != "0309999" {
		t.Errorf("contact not merged: %v", contact)
	}
	if u.Active {
		t.Error("expected referrer deactivated")
	}

	// Same payload again is a no-op.
	res, err = runner.Run(ctx, job)
	if err != nil {
		t.Fatalf("third pass: %v", err)
	}
	if res.Unchanged != 1 {
		t.Errorf("expected unchanged, got %+v", res)
	}
}
