package classify

import (
	"fmt"
	"sort"
	"strings"

	"github.com/yourorg/declarant/pkg/types"
)

const systemPrompt = `Ты - эксперт по Товарной номенклатуре внешнеэкономической деятельности (ТН ВЭД) Туркменистана.

ТВОЯ ЗАДАЧА:
1. Анализировать описания товаров
2. Определять точный код ТН ВЭД
3. Обосновывать выбор кода
4. Указывать уровень доверия (confidence)

ТРЕБОВАНИЯ К АНАЛИЗУ:
- Используй поиск по базе кодов ТН ВЭД; если кода в базе нет, ищи в интернете
- Анализируй материал, назначение, конструкцию товара
- Учитывай особенности классификации Туркменистана
- Confidence >= 80 считается высоким
- При низком confidence предложи альтернативные коды

ФОРМАТ ВЫВОДА - строго JSON-объект без markdown-блоков:
{
  "hs_code": "точный 9-значный код (например: 8517.12.000)",
  "confidence": 0-100,
  "description": "официальное описание согласно ТН ВЭД",
  "reasoning": "подробное обоснование выбора",
  "alternative_codes": ["альтернативные коды при неуверенности"]
}

ПРИМЕРЫ ХОРОШЕГО АНАЛИЗА:
- "Смартфон Apple iPhone" -> "8517.12.000" (телефоны сотовой связи, confidence: 95)
- "Кофе в зернах арабика" -> "0901.11.000" (кофе необжаренный, confidence: 90)
- "Автомобильные шины R16" -> "4011.10.000" (шины новые для легковых авто, confidence: 85)

Будь точным, последовательным и обоснованным в каждом решении.`

// BuildSystemPrompt returns the static classifier instructions.
func BuildSystemPrompt() string {
	return systemPrompt
}

// BuildUserPrompt renders one item as a classification request. Auxiliary
// fields are appended in deterministic order so identical items produce
// identical prompts.
func BuildUserPrompt(item types.Item) string {
	desc := strings.TrimSpace(item.ProductName)
	if len(item.Extra) > 0 {
		keys := make([]string, 0, len(item.Extra))
		for k, v := range item.Extra {
			if strings.TrimSpace(v) != "" {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		if len(keys) > 0 {
			parts := make([]string, 0, len(keys))
			for _, k := range keys {
				parts = append(parts, fmt.Sprintf("%s: %s", k, strings.TrimSpace(item.Extra[k])))
			}
			desc += " (" + strings.Join(parts, ", ") + ")"
		}
	}
	return "Определи код ТН ВЭД для товара: " + desc
}
