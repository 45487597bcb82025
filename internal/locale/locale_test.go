package locale

import "testing"

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"":      "en",
		"en":    "en",
		"en-US": "en",
		"tr":    "tr",
		"tr-TR": "tr",
		"fr":    "en",
		"junk!": "en",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTranslationFallback(t *testing.T) {
	if got := T("tr", "cmd.executed"); got != "Komut çalıştırıldı." {
		t.Fatalf("tr message: %q", got)
	}
	if got := T("fr", "cmd.executed"); got != "Command executed." {
		t.Fatalf("fallback message: %q", got)
	}
	if got := T("en", "no.such.key"); got != "no.such.key" {
		t.Fatalf("missing key should echo: %q", got)
	}
}

func TestEveryKeyHasBothLocales(t *testing.T) {
	for key := range catalog["en"] {
		if _, ok := catalog["tr"][key]; !ok {
			t.Errorf("key %s missing in tr", key)
		}
	}
	for key := range catalog["tr"] {
		if _, ok := catalog["en"][key]; !ok {
			t.Errorf("key %s missing in en", key)
		}
	}
}
