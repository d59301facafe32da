package service

import (
	"net/mail"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"UserManagementServer/internal/auth"
	"UserManagementServer/internal/domain"
)

const (
	maxNameLength  = 100
	maxBioLength   = 500
	maxEmailLength = 254
)

var (
	githubPathRe = regexp.MustCompile(`^/[a-zA-Z0-9](?:[a-zA-Z0-9]|-[a-zA-Z0-9]){0,38}$`)
	nicknameRe   = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,30}$`)

	imageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp"}
)

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func validateEmail(email string) string {
	if email == "" {
		return "is required"
	}
	if len(email) > maxEmailLength {
		return "is too long"
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "must be a valid email address"
	}
	return ""
}

func validatePassword(pw string) string {
	switch {
	case len(pw) < auth.MinPasswordLength:
		return "must be at least 8 characters"
	case len(pw) > auth.MaxPasswordLength:
		return "must be 72 bytes or less"
	}
	return ""
}

func validateNickname(nick string) string {
	if !nicknameRe.MatchString(nick) {
		return "must be 3-30 letters, digits, underscores or hyphens"
	}
	return ""
}

// parseWebURL checks the shared http(s) + host shape of profile links.
func parseWebURL(raw string) (*url.URL, string) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, "must be an absolute URL including http:// or https://"
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, "must use http or https"
	}
	return u, ""
}

// ValidateGitHubURL returns an empty string when raw is acceptable. Empty
// input is allowed.
func ValidateGitHubURL(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	u, msg := parseWebURL(raw)
	if msg != "" {
		return msg
	}
	if h := strings.ToLower(u.Host); h != "github.com" && h != "www.github.com" {
		return "must be a github.com URL"
	}
	// RE2 has no lookahead, so the 39 character cap is checked separately.
	if len(u.Path) > 40 || !githubPathRe.MatchString(u.Path) {
		return "must point to a GitHub username"
	}
	return ""
}

func ValidateLinkedInURL(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	u, msg := parseWebURL(raw)
	if msg != "" {
		return msg
	}
	if h := strings.ToLower(u.Host); h != "linkedin.com" && h != "www.linkedin.com" {
		return "must be a linkedin.com URL"
	}
	if !strings.HasPrefix(u.Path, "/in/") && !strings.HasPrefix(u.Path, "/company/") {
		return "must start with /in/ or /company/"
	}
	return ""
}

func ValidatePictureURL(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	u, msg := parseWebURL(raw)
	if msg != "" {
		return msg
	}
	p := strings.ToLower(u.Path)
	for _, ext := range imageExtensions {
		if strings.HasSuffix(p, ext) {
			return ""
		}
	}
	return "must point to a jpg, jpeg, png, gif, bmp or webp image"
}

// ValidateProfile trims the provided fields in place and reports every
// problem at once.
func ValidateProfile(p *domain.ProfileUpdate) error {
	fields := map[string]string{}

	checkText := func(name string, v *string, max int) {
		if v == nil {
			return
		}
		*v = strings.TrimSpace(*v)
		if utf8.RuneCountInString(*v) > max {
			fields[name] = "is too long"
			return
		}
		for _, r := range *v {
			if r < 32 && r != '\n' && r != '\t' {
				fields[name] = "contains invalid characters"
				return
			}
		}
	}
	checkText("first_name", p.FirstName, maxNameLength)
	checkText("last_name", p.LastName, maxNameLength)
	checkText("bio", p.Bio, maxBioLength)

	checkURL := func(name string, v *string, fn func(string) string) {
		if v == nil {
			return
		}
		*v = strings.TrimSpace(*v)
		if msg := fn(*v); msg != "" {
			fields[name] = msg
		}
	}
	checkURL("github_profile_url", p.GitHubProfileURL, ValidateGitHubURL)
	checkURL("linkedin_profile_url", p.LinkedInProfileURL, ValidateLinkedInURL)
	checkURL("profile_picture_url", p.ProfilePictureURL, ValidatePictureURL)

	if len(fields) > 0 {
		return domain.NewValidationError(fields)
	}
	return nil
}
