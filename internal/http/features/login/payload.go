package login

import "github.com/tendant/simple-idm-login/pkg/domain"

// IdentityPayload is the body API clients receive after a full login:
// id, email and authentication token plus the configured extra fields.
// Extra fields never override the three base keys.
func IdentityPayload(account *domain.Account, extra []string) map[string]any {
	payload := map[string]any{
		"id":                  account.ID.String(),
		"email":               account.Email,
		"authenticationToken": account.Token(),
	}
	for _, name := range extra {
		if _, reserved := payload[name]; reserved {
			continue
		}
		if v, ok := account.Field(name); ok {
			payload[name] = v
		}
	}
	return payload
}
