// Package langtag normalises the language identifiers used across voxlink.
//
// Clients and the call store use short two-letter tags ("en", "he", "ru");
// speech vendors want full BCP-47 tags ("en-US", "he-IL", "ru-RU"). This
// package maps between the two and defines the fixed supported set.
package langtag

import "strings"

// fullTags maps supported short tags to the full BCP-47 tag sent to vendors.
var fullTags = map[string]string{
	"en": "en-US",
	"he": "he-IL",
	"ru": "ru-RU",
	"ar": "ar-SA",
	"es": "es-ES",
	"fr": "fr-FR",
	"de": "de-DE",
}

// Default is the participant language assumed when the store has none.
const Default = "en"

// Supported reports whether tag (short or full form) belongs to the fixed
// supported set.
func Supported(tag string) bool {
	_, ok := fullTags[Short(tag)]
	return ok
}

// Full maps a short tag to its full BCP-47 form. Tags already in full form,
// or unknown tags, are returned unchanged.
func Full(tag string) string {
	if full, ok := fullTags[strings.ToLower(tag)]; ok {
		return full
	}
	return tag
}

// Short reduces a BCP-47 tag to its lowercase primary subtag: "en-US" → "en".
func Short(tag string) string {
	tag = strings.ToLower(tag)
	if i := strings.IndexByte(tag, '-'); i > 0 {
		return tag[:i]
	}
	return tag
}

// Same reports whether two tags denote the same language, comparing primary
// subtags only ("en" == "en-US").
func Same(a, b string) bool {
	return Short(a) == Short(b)
}

// All returns the supported short tags in unspecified order.
func All() []string {
	out := make([]string, 0, len(fullTags))
	for t := range fullTags {
		out = append(out, t)
	}
	return out
}
