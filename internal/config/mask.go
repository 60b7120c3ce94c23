package config

import "strings"

// MaskToken renders a secret for the admin dashboard: no characters visible
// at the start, the last 4 visible, everything else replaced by "•"
// (SPEC_FULL "Admin dashboard masked-token echo", resolving spec §9's open
// question on the exact mask format).
func MaskToken(token string) string {
	const visible = 4
	if len(token) <= visible {
		return strings.Repeat("•", len(token))
	}
	masked := strings.Repeat("•", len(token)-visible)
	return masked + token[len(token)-visible:]
}

// MaskedRepository is the admin-dashboard-safe projection of a Repository:
// TokenMaterial is masked, everything else passes through.
type MaskedRepository struct {
	Repository
	TokenMaterial string `json:"tokenMaterial"`
}

// Masked returns a copy of cfg suitable for the read-only admin endpoint,
// with every repository's tokenMaterial masked.
func Masked(cfg *Config) []MaskedRepository {
	out := make([]MaskedRepository, 0, len(cfg.Repositories))
	for _, r := range cfg.Repositories {
		masked := MaskToken(r.TokenMaterial)
		// The embedded Repository's MarshalJSON is promoted to
		// MaskedRepository, so its own copy of the token is masked too.
		r.TokenMaterial = masked
		out = append(out, MaskedRepository{Repository: r, TokenMaterial: masked})
	}
	return out
}
