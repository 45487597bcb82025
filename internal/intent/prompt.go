package intent

import (
	"fmt"
	"strings"

	"workdesk/internal/domain"
	"workdesk/internal/schema"
)

// Examples returns locale-specific example phrasings for the commands UI.
func Examples(loc string) []string {
	if loc == "tr" {
		return []string{
			"yeni fırsat oluştur: Acme için 50000 TL",
			"d-42 numaralı fırsatı kazanıldı olarak işaretle",
			"Acme müşterisi için 12000 tutarında fatura kes",
			"q-7 teklifini kabul et",
			"yarın için Acme ile toplantı planla",
			"c-3 sözleşmesini feshet",
		}
	}
	return []string{
		"create a deal for Acme worth 50000",
		"mark deal d-42 as won",
		"create an invoice of 12000 for customer Acme",
		"accept quote q-7",
		"schedule a meeting with Acme for tomorrow",
		"terminate contract c-3",
	}
}

const instructionEN = `You convert one business instruction into one JSON command.
Reply with a single JSON object and nothing else, using this shape:
{"entity": "...", "action": "...", "parameters": {...}, "confidence": 0.0}

Supported commands and their parameters (* = required):
%s

Rules:
- Pick exactly one supported entity/action pair.
- Put every detail you can extract into "parameters"; omit unknown ones.
- Numbers are bare JSON numbers, dates are "YYYY-MM-DD" strings.
- If the instruction matches nothing supported, still answer with your best
  guess and a low confidence.

Instruction: %s`

const instructionTR = `Bir iş talimatını tek bir JSON komutuna çevirirsin.
Yalnızca tek bir JSON nesnesiyle yanıt ver, şu biçimde:
{"entity": "...", "action": "...", "parameters": {...}, "confidence": 0.0}

Desteklenen komutlar ve parametreleri (* = zorunlu):
%s

Kurallar:
- Tam olarak bir desteklenen entity/action çifti seç.
- Çıkarabildiğin her bilgiyi "parameters" içine koy; bilinmeyenleri atla.
- Sayılar düz JSON sayısı, tarihler "YYYY-MM-DD" biçiminde olmalı.
- Talimat hiçbir komuta uymuyorsa yine en iyi tahminini düşük confidence
  ile ver.

Talimat: %s`

// buildPrompt renders the locale-specific instruction text with the
// registry-derived command list, so the prompt can never drift from the
// schema.
func buildPrompt(loc, rawText string) string {
	catalog := commandCatalog()
	if loc == "tr" {
		return fmt.Sprintf(instructionTR, catalog, rawText)
	}
	return fmt.Sprintf(instructionEN, catalog, rawText)
}

func commandCatalog() string {
	var b strings.Builder
	for _, op := range schema.Operations() {
		parts := strings.SplitN(op, ".", 2)
		specs, _ := schema.Params(domain.EntityKind(parts[0]), domain.ActionKind(parts[1]))
		var params []string
		for _, s := range specs {
			name := s.Name
			if s.Required {
				name += "*"
			}
			params = append(params, fmt.Sprintf("%s (%s)", name, s.Type))
		}
		fmt.Fprintf(&b, "- %s: %s\n", op, strings.Join(params, ", "))
	}
	return b.String()
}
