// Package locale resolves the requested locale and renders user-visible
// messages. Every message the API or CLI shows an end user goes through T.
package locale

import (
	"fmt"

	"golang.org/x/text/language"
)

var supported = []language.Tag{
	language.English,
	language.Turkish,
}

var matcher = language.NewMatcher(supported)

// Normalize maps an arbitrary locale string onto a supported locale code.
// Unknown or empty input falls back to English.
func Normalize(loc string) string {
	if loc == "" {
		return "en"
	}
	tag, err := language.Parse(loc)
	if err != nil {
		return "en"
	}
	_, idx, _ := matcher.Match(tag)
	if supported[idx] == language.Turkish {
		return "tr"
	}
	return "en"
}

// T renders a catalog message in the given locale.
func T(loc, key string, args ...any) string {
	msgs, ok := catalog[Normalize(loc)]
	if !ok {
		msgs = catalog["en"]
	}
	format, ok := msgs[key]
	if !ok {
		format = catalog["en"][key]
	}
	if format == "" {
		return key
	}
	return fmt.Sprintf(format, args...)
}

// EntityName returns the localized display name of an entity kind.
func EntityName(loc, entity string) string {
	return T(loc, "entity."+entity)
}

var catalog = map[string]map[string]string{
	"en": {
		"entity.customer": "customer",
		"entity.deal":     "deal",
		"entity.quote":    "quote",
		"entity.invoice":  "invoice",
		"entity.contract": "contract",
		"entity.meeting":  "meeting",

		"cmd.executed":           "Command executed.",
		"cmd.created":            "Created %s %q.",
		"cmd.updated":            "Updated %s %s.",
		"cmd.deleted":            "Deleted %s %s.",
		"cmd.transitioned":       "Moved %s %s to %s.",
		"cmd.needs_confirmation": "This command needs your confirmation before it runs.",

		"preview.create":     "This will create a new %s %q.",
		"preview.amount":     "Amount: %s.",
		"preview.update":     "This will update %s %q.",
		"preview.delete":     "This will delete %s %q.",
		"preview.transition": "This will move %s %q from %s to %s.",

		"err.generation_failed":    "The assistant is unavailable right now: %s",
		"err.parse_failed":         "Could not understand the instruction: %s",
		"err.unsupported_command":  "Command %s.%s is not supported.",
		"err.missing_parameter":    "Required detail %q is missing from the instruction.",
		"err.type_mismatch":        "Detail %q has the wrong form; expected %s.",
		"err.empty_update":         "An update to a %s must change at least one field.",
		"err.reference_not_found":  "No %s found with id %s.",
		"err.permission_denied":    "You do not have permission to %s.",
		"err.immutable_state":      "This %s is in state %q and can no longer be changed.",
		"err.cannot_delete":        "This %s is in state %q and cannot be deleted.",
		"err.invalid_transition":   "A %s cannot move from %q to %q.",
		"err.preference_denied":    "Automation %q is disabled in your preferences.",
		"err.invalid_preference":   "Preference value %q is not valid; use always, ask or never.",
		"err.execution_failed":     "The command could not be completed: %s",
		"err.invalid_confirmation": "The confirmation no longer matches the command.",
	},
	"tr": {
		"entity.customer": "müşteri",
		"entity.deal":     "fırsat",
		"entity.quote":    "teklif",
		"entity.invoice":  "fatura",
		"entity.contract": "sözleşme",
		"entity.meeting":  "toplantı",

		"cmd.executed":           "Komut çalıştırıldı.",
		"cmd.created":            "%s oluşturuldu: %q.",
		"cmd.updated":            "%s güncellendi: %s.",
		"cmd.deleted":            "%s silindi: %s.",
		"cmd.transitioned":       "%s %s, %s durumuna taşındı.",
		"cmd.needs_confirmation": "Bu komut çalıştırılmadan önce onayınız gerekiyor.",

		"preview.create":     "Yeni bir %s oluşturulacak: %q.",
		"preview.amount":     "Tutar: %s.",
		"preview.update":     "%s güncellenecek: %q.",
		"preview.delete":     "%s silinecek: %q.",
		"preview.transition": "%s %q, %s durumundan %s durumuna taşınacak.",

		"err.generation_failed":    "Asistan şu anda kullanılamıyor: %s",
		"err.parse_failed":         "Talimat anlaşılamadı: %s",
		"err.unsupported_command":  "%s.%s komutu desteklenmiyor.",
		"err.missing_parameter":    "Talimatta gerekli %q bilgisi eksik.",
		"err.type_mismatch":        "%q bilgisi yanlış biçimde; beklenen: %s.",
		"err.empty_update":         "Bir %s güncellemesi en az bir alanı değiştirmelidir.",
		"err.reference_not_found":  "%s bulunamadı: %s.",
		"err.permission_denied":    "%s için yetkiniz yok.",
		"err.immutable_state":      "Bu %s %q durumunda ve artık değiştirilemez.",
		"err.cannot_delete":        "Bu %s %q durumunda ve silinemez.",
		"err.invalid_transition":   "Bir %s %q durumundan %q durumuna geçemez.",
		"err.preference_denied":    "%q otomasyonu tercihlerinizde kapalı.",
		"err.invalid_preference":   "%q geçerli bir tercih değil; always, ask veya never kullanın.",
		"err.execution_failed":     "Komut tamamlanamadı: %s",
		"err.invalid_confirmation": "Onay artık komutla eşleşmiyor.",
	},
}
