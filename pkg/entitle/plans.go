package entitle

// Plan describes a pricing tier: display name, monthly price, and the
// feature list shown at checkout. Billing math stays with the provider;
// this catalog only names what each tier entitles a customer to.
type Plan struct {
	Tier       Tier
	Name       string
	PriceCents int64
	Interval   string
	Features   []string
}

// DefaultCatalog returns the built-in three-tier catalog.
func DefaultCatalog() map[Tier]Plan {
	return map[Tier]Plan{
		TierStarter: {
			Tier:       TierStarter,
			Name:       "Starter",
			PriceCents: 4900,
			Interval:   "month",
			Features:   []string{"10GB data", "5 pipelines", "Email support"},
		},
		TierPro: {
			Tier:       TierPro,
			Name:       "Pro",
			PriceCents: 19900,
			Interval:   "month",
			Features:   []string{"100GB data", "Unlimited pipelines", "Priority support"},
		},
		TierEnterprise: {
			Tier:       TierEnterprise,
			Name:       "Enterprise",
			PriceCents: 49900,
			Interval:   "month",
			Features:   []string{"Unlimited data", "Custom integrations", "Dedicated support"},
		},
	}
}

// Weight returns the tier's priority weight. When a customer holds multiple
// subscriptions, the highest weight wins during API resync.
func (t Tier) Weight() int {
	switch t {
	case TierEnterprise:
		return 30
	case TierPro:
		return 20
	case TierStarter:
		return 10
	default:
		return 0
	}
}
