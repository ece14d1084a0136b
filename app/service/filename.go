package service

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var lowerCaser = cases.Lower(language.Und)

// slugify 把名称折叠成 ASCII 的文件名片段，例如 "Kaya Ölund" -> "kaya_olund"
func slugify(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}
	folded = lowerCaser.String(folded)

	var b strings.Builder
	underscore := false
	for _, r := range folded {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimRight(b.String(), "_")
}

// downloadFilename 生成结果文件的建议下载名
func downloadFilename(characterName, animationName, jobID, ext string) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{slugify(characterName), slugify(animationName)} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "character_animated")
	}
	if len(jobID) > 8 {
		jobID = jobID[:8]
	}
	parts = append(parts, jobID)
	return strings.Join(parts, "_") + "." + ext
}
