package rag

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// SynonymTable maps query terms to expansion terms for keyword search.
// Multi-word synonyms are split into individual tokens during expansion.
type SynonymTable map[string][]string

// TurkishSynonyms covers the IT-helpdesk vocabulary of the default corpus.
// The keys are unaccented forms because users type both.
var TurkishSynonyms = SynonymTable{
	"sifre":       {"parola", "password", "sifirlama"},
	"vpn":         {"uzak erisim", "remote"},
	"yazici":      {"printer", "baski", "yazdirma"},
	"laptop":      {"dizustu", "notebook"},
	"toner":       {"kartus", "sarf malzeme"},
	"phishing":    {"oltalama", "sahte mail"},
	"firewall":    {"guvenlik duvari"},
	"egitim":      {"training", "farkindalik"},
	"yedek":       {"backup", "yedekleme"},
	"kamera":      {"webcam", "video konferans"},
	"crm":         {"musteri iliskileri"},
	"offboarding": {"ayrilan calisan", "hesap kapatma"},
	"onboarding":  {"yeni calisan", "hesap acma"},
	"mfa":         {"iki faktor", "two factor", "dogrulama"},
	"hesap":       {"kullanici", "account"},
	"erisim":      {"access", "yetki", "izin"},
	"mail":        {"eposta", "e-posta", "outlook"},
	"disk":        {"depolama", "storage", "alan"},
	"lisans":      {"license", "yazilim"},
}

// ExpandQuery widens a query with synonyms for better keyword recall.
// A word also pulls in any synonym key that contains it as a substring, so
// "board" reaches both onboarding and offboarding.
func (t SynonymTable) ExpandQuery(query string) string {
	var words []string
	for _, w := range strings.Fields(query) {
		w = strings.ToLower(strings.TrimSpace(w))
		if utf8.RuneCountInString(w) >= 2 {
			words = append(words, w)
		}
	}

	expanded := append([]string(nil), words...)
	for _, word := range words {
		if syns, ok := t[word]; ok {
			for _, syn := range syns {
				expanded = append(expanded, strings.Fields(syn)...)
			}
		}
		for key, syns := range t {
			if key != word && strings.Contains(key, word) {
				expanded = append(expanded, key)
				for _, syn := range syns {
					expanded = append(expanded, strings.Fields(syn)...)
				}
			}
		}
	}

	seen := map[string]bool{}
	var unique []string
	for _, w := range expanded {
		if !seen[w] {
			seen[w] = true
			unique = append(unique, w)
		}
	}
	return strings.Join(unique, " ")
}

// Keeps alphanumerics plus Turkish letters, strips everything else so the
// expansion never produces invalid tsquery tokens.
var sanitizePattern = regexp.MustCompile(`[^a-zA-Z0-9çğıöşüÇĞİÖŞÜ]`)

// BuildTSQuery turns an expanded query into an OR-joined to_tsquery input.
// Returns "" when nothing survives sanitization.
func (t SynonymTable) BuildTSQuery(query string) string {
	expanded := t.ExpandQuery(query)

	seen := map[string]bool{}
	var terms []string
	for _, w := range strings.Fields(expanded) {
		w = strings.ToLower(sanitizePattern.ReplaceAllString(w, ""))
		if utf8.RuneCountInString(w) < 2 || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, w)
	}
	return strings.Join(terms, " | ")
}
