package entitle

import (
	"errors"
	"testing"
)

func TestParseTier(t *testing.T) {
	for _, s := range []string{"starter", "pro", "enterprise"} {
		tier, err := ParseTier(s)
		if err != nil {
			t.Errorf("ParseTier(%q) failed: %v", s, err)
		}
		if string(tier) != s {
			t.Errorf("ParseTier(%q) = %s", s, tier)
		}
	}

	for _, s := range []string{"", "platinum", "Pro", "STARTER"} {
		if _, err := ParseTier(s); !errors.Is(err, ErrInvalidTier) {
			t.Errorf("ParseTier(%q): expected ErrInvalidTier, got %v", s, err)
		}
	}
}

func TestParseEventType(t *testing.T) {
	known := []string{
		"customer.subscription.created",
		"customer.subscription.updated",
		"customer.subscription.deleted",
		"invoice.payment_succeeded",
		"invoice.payment_failed",
		"payment_intent.succeeded",
		"payment_intent.payment_failed",
	}
	for _, s := range known {
		if got := ParseEventType(s); string(got) != s {
			t.Errorf("ParseEventType(%q) = %s", s, got)
		}
	}

	// Unknown names are acknowledged, never rejected
	for _, s := range []string{"", "charge.refunded", "customer.created"} {
		if got := ParseEventType(s); got != EventUnhandled {
			t.Errorf("ParseEventType(%q) = %s, want unhandled", s, got)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	if !StatusCanceled.Terminal() {
		t.Error("canceled must be terminal")
	}
	for _, s := range []Status{StatusTrialing, StatusActive, StatusPastDue, StatusIncomplete} {
		if s.Terminal() {
			t.Errorf("%s must not be terminal", s)
		}
	}
}

func TestActionKeys(t *testing.T) {
	if got := actionKey("sub_1", StatusActive, ActionGrant); got != "sub_1:active:grant" {
		t.Errorf("actionKey = %q", got)
	}
	if got := oneTimeKey("pi_1", ActionRevoke); got != "pi:pi_1:revoke" {
		t.Errorf("oneTimeKey = %q", got)
	}

	// Keys are deterministic across replays of different events that land on
	// the same target state
	if actionKey("sub_1", StatusActive, ActionExtend) != actionKey("sub_1", StatusActive, ActionExtend) {
		t.Error("actionKey must be deterministic")
	}
}

func TestTierWeight(t *testing.T) {
	if !(TierEnterprise.Weight() > TierPro.Weight() && TierPro.Weight() > TierStarter.Weight()) {
		t.Error("tier weights must be strictly ordered")
	}
	if Tier("unknown").Weight() != 0 {
		t.Error("unknown tiers weigh nothing")
	}
}

func TestDefaultCatalog(t *testing.T) {
	catalog := DefaultCatalog()

	for _, tier := range []Tier{TierStarter, TierPro, TierEnterprise} {
		plan, ok := catalog[tier]
		if !ok {
			t.Fatalf("Catalog missing %s", tier)
		}
		if plan.Tier != tier {
			t.Errorf("Plan tier mismatch: %s != %s", plan.Tier, tier)
		}
		if plan.PriceCents <= 0 {
			t.Errorf("%s has no price", tier)
		}
	}

	if catalog[TierStarter].PriceCents >= catalog[TierPro].PriceCents {
		t.Error("starter must be cheaper than pro")
	}
	if catalog[TierPro].PriceCents >= catalog[TierEnterprise].PriceCents {
		t.Error("pro must be cheaper than enterprise")
	}
}
