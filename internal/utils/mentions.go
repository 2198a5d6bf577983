package utils

import "regexp"

var mentionPattern = regexp.MustCompile(`(?:^|[^\w/])@([a-zA-Z0-9](?:[a-zA-Z0-9-]{0,37}[a-zA-Z0-9])?)`)

// ExtractMentions parses GitHub @mentions from free text (PR bodies,
// comments) and returns the unique logins in order of first appearance.
// The pattern follows GitHub's username rules: alphanumeric and hyphens,
// no leading/trailing hyphen, at most 39 characters. A leading "/" guard
// keeps file paths like "src/@types" from matching.
func ExtractMentions(text string) []string {
	matches := mentionPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(matches))
	logins := make([]string, 0, len(matches))
	for _, match := range matches {
		login := match[1]
		if _, ok := seen[login]; ok {
			continue
		}
		seen[login] = struct{}{}
		logins = append(logins, login)
	}
	return logins
}
