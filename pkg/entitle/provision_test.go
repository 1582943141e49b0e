package entitle

import (
	"context"
	"errors"
	"testing"
	"time"
)

type recordingSink struct {
	grants  []Tier
	revokes int
	extends []time.Time
}

func (s *recordingSink) Grant(_ context.Context, _ string, tier Tier) error {
	s.grants = append(s.grants, tier)
	return nil
}

func (s *recordingSink) Revoke(_ context.Context, _ string) error {
	s.revokes++
	return nil
}

func (s *recordingSink) Extend(_ context.Context, _ string, until time.Time) error {
	s.extends = append(s.extends, until)
	return nil
}

func TestSinkProvisioner_Dispatch(t *testing.T) {
	sink := &recordingSink{}
	p := NewSinkProvisioner(sink)
	ctx := context.Background()
	until := time.Now().UTC().AddDate(0, 1, 0)

	if err := p.Apply(ctx, ProvisioningAction{Kind: ActionGrant, Tier: TierPro, CustomerID: "c"}); err != nil {
		t.Fatalf("Grant failed: %v", err)
	}
	if err := p.Apply(ctx, ProvisioningAction{Kind: ActionRevoke, CustomerID: "c"}); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if err := p.Apply(ctx, ProvisioningAction{Kind: ActionExtend, Until: until, CustomerID: "c"}); err != nil {
		t.Fatalf("Extend failed: %v", err)
	}

	if len(sink.grants) != 1 || sink.grants[0] != TierPro {
		t.Errorf("Unexpected grants %v", sink.grants)
	}
	if sink.revokes != 1 {
		t.Errorf("Expected 1 revoke, got %d", sink.revokes)
	}
	if len(sink.extends) != 1 || !sink.extends[0].Equal(until) {
		t.Errorf("Unexpected extends %v", sink.extends)
	}
}

func TestSinkProvisioner_PermanentFailures(t *testing.T) {
	p := NewSinkProvisioner(&recordingSink{})
	ctx := context.Background()

	tests := []struct {
		name   string
		action ProvisioningAction
	}{
		{"unknown tier", ProvisioningAction{Kind: ActionGrant, Tier: "platinum"}},
		{"extend without date", ProvisioningAction{Kind: ActionExtend}},
		{"unknown kind", ProvisioningAction{Kind: "destroy"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.Apply(ctx, tt.action)
			if !errors.Is(err, ErrPermanentProvision) {
				t.Errorf("Expected ErrPermanentProvision, got %v", err)
			}
		})
	}
}
