package auth

import "strings"

// DefaultProvider labels identities whose user_id carries no provider prefix.
const DefaultProvider = "default"

// Identity is the provider-scoped account a session belongs to. Provider and
// Subject together key a doodlemap user.
type Identity struct {
	Provider string
	Subject  string
}

// Valid reports whether the identity names an account.
func (i Identity) Valid() bool {
	return i.Subject != ""
}

// Key returns the provider:subject form used for lookups.
func (i Identity) Key() string {
	return i.Provider + ":" + i.Subject
}

// Identity derives the account from the claims. A "provider:subject" user_id
// wins over the registered subject; the email is the last resort.
func (c SessionClaims) Identity() Identity {
	identity := Identity{Provider: DefaultProvider, Subject: strings.TrimSpace(c.Subject)}

	if raw := strings.TrimSpace(c.UserID); raw != "" {
		prefix, rest, ok := strings.Cut(raw, ":")
		prefix, rest = strings.TrimSpace(prefix), strings.TrimSpace(rest)
		switch {
		case ok && prefix != "" && rest != "":
			identity.Provider = prefix
			identity.Subject = rest
		case !ok && identity.Subject == "":
			identity.Subject = raw
		}
	}

	if identity.Subject == "" {
		identity.Subject = strings.TrimSpace(c.UserEmail)
	}
	return identity
}
