package config

import (
	"os"
	"strings"

	"golang.org/x/text/language"
)

// displayCodes are the UI locales the frontend ships, in matcher priority
// order. English comes first so unmatched locales fall back to it.
var (
	displayCodes = []string{"en", "zh-CN", "zh-TW", "es", "ja", "ko"}

	displayMatcher = language.NewMatcher([]language.Tag{
		language.MustParse("en"),
		language.MustParse("zh-CN"),
		language.MustParse("zh-TW"),
		language.MustParse("es"),
		language.MustParse("ja"),
		language.MustParse("ko"),
	})
)

// systemLocale reads the locale from the POSIX environment, normalized to
// BCP 47 ("zh_CN.UTF-8" becomes "zh-CN"). Hosts without locale variables
// fall back to en-US.
func systemLocale() string {
	for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		v := os.Getenv(key)
		if i := strings.IndexAny(v, ".@"); i >= 0 {
			v = v[:i]
		}
		if v == "" || v == "C" || v == "POSIX" {
			continue
		}
		return strings.ReplaceAll(v, "_", "-")
	}
	return "en-US"
}

// defaultLanguage maps a host locale onto the closest display language.
// Script-aware matching sends zh-HK to zh-TW rather than zh-CN.
func defaultLanguage(locale string) string {
	tag, err := language.Parse(locale)
	if err != nil {
		return displayCodes[0]
	}
	_, idx, _ := displayMatcher.Match(tag)
	return displayCodes[idx]
}

// defaultPipIndex picks the default package index for the host locale.
// Mainland Chinese hosts get a domestic mirror; everyone else keeps pip's
// own default.
func defaultPipIndex(locale string) string {
	if locale == "zh-CN" {
		return pipIndexAliyun
	}
	return pipIndexSystemDefault
}
