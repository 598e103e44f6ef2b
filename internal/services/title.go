package services

import (
	"errors"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/tbourn/go-notes-backend/internal/repo"
)

const maxTitleWords = 8

// titleFromText derives a short title-cased label from a conversation's
// first message, dropping common stop words.
func titleFromText(text string, locale language.Tag) string {
	toks := titleWordRE.FindAllString(strings.ToLower(strings.TrimSpace(text)), -1)
	if len(toks) == 0 {
		return ""
	}
	if locale == language.Und {
		locale = language.English
	}
	caser := cases.Title(locale)

	out := make([]string, 0, maxTitleWords)
	for _, w := range toks {
		if _, skip := titleStopWords[w]; skip {
			continue
		}
		out = append(out, caser.String(w))
		if len(out) >= maxTitleWords {
			break
		}
	}
	return strings.Join(out, " ")
}

// normalizeTitle trims whitespace and collapses multiple spaces to one.
func normalizeTitle(s string) string {
	return whitespaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
}

var (
	whitespaceRE = regexp.MustCompile(`\s+`)
	// Unicode letters with optional trailing digits (e.g. "p2n").
	titleWordRE = regexp.MustCompile(`[\p{L}]+[\p{N}]*`)
)

var titleStopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "of": {}, "to": {}, "in": {},
	"is": {}, "are": {}, "for": {}, "on": {}, "with": {}, "by": {}, "from": {},
	"at": {}, "as": {}, "that": {}, "this": {}, "it": {}, "be": {}, "was": {}, "were": {},
	"can": {}, "you": {}, "me": {}, "explain": {}, "what": {}, "why": {}, "how": {},
	"does": {}, "do": {}, "there": {}, "any": {},
}

// isNotFound treats repo-level not found sentinels as "not found".
func isNotFound(err error) bool {
	return errors.Is(err, repo.ErrNotFound) || errors.Is(err, gorm.ErrRecordNotFound)
}

// isDuplicate reports unique-constraint violations surfaced by the repo.
func isDuplicate(err error) bool {
	return errors.Is(err, repo.ErrDuplicate) || errors.Is(err, gorm.ErrDuplicatedKey)
}
