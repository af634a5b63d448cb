package auth

import "strings"

// BuildUser derives the in-memory user from the backend account and its
// profile. profile may be nil.
func BuildUser(account Account, profile *Profile) *User {
	var profileName string
	var profileRole UserRole
	if profile != nil {
		profileName = strings.TrimSpace(profile.Name)
		profileRole = profile.Role
	}

	user := &User{
		ID:           account.ID,
		Email:        account.Email,
		Name:         firstNonEmpty(profileName, displayNameFromAccount(account)),
		Role:         ResolveRole(account.MetadataString(MetaRole), profileRole),
		UserMetadata: cloneMetadata(account.Metadata),
	}

	if user.UserMetadata == nil {
		user.UserMetadata = map[string]any{}
	}

	return user
}

// displayNameFromAccount seeds a name from metadata, falling back to the
// e-mail local part.
func displayNameFromAccount(account Account) string {
	return firstNonEmpty(
		account.MetadataString(MetaName),
		account.MetadataString(MetaFullName),
		emailLocalPart(account.Email),
	)
}

func emailLocalPart(email string) string {
	if i := strings.Index(email, "@"); i > 0 {
		return email[:i]
	}
	return strings.TrimSpace(email)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
