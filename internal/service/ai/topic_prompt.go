package ai

import (
	"fmt"
	"strings"
	"unicode"
)

// PromptTemplate is the system prompt used for one transcript language.
type PromptTemplate struct {
	Instruction string
	Rules       []string
	Examples    []string
}

// TopicPromptManager picks the prompt template that matches a transcript.
type TopicPromptManager struct {
	templates map[string]*PromptTemplate
	fallback  string
}

// NewTopicPromptManager creates a manager with the built-in templates.
func NewTopicPromptManager() *TopicPromptManager {
	pm := &TopicPromptManager{
		templates: make(map[string]*PromptTemplate),
		fallback:  "en",
	}
	pm.loadDefaultTemplates()
	return pm
}

// GetPromptTemplate returns the template registered for lang.
func (pm *TopicPromptManager) GetPromptTemplate(lang string) (*PromptTemplate, error) {
	template, exists := pm.templates[lang]
	if !exists {
		return nil, fmt.Errorf("prompt template not found for language: %s", lang)
	}
	return template, nil
}

// BuildSystemPrompt renders the system prompt for lang, falling back to English.
func (pm *TopicPromptManager) BuildSystemPrompt(lang string) string {
	template, err := pm.GetPromptTemplate(lang)
	if err != nil {
		template = pm.templates[pm.fallback]
	}

	return fmt.Sprintf(`%s

Rules:
- %s

Examples of good topics:
- %s`,
		template.Instruction,
		strings.Join(template.Rules, "\n- "),
		strings.Join(template.Examples, "\n- "),
	)
}

// DetectLanguage returns "ru" when the text is mostly Cyrillic, otherwise "en".
func DetectLanguage(text string) string {
	cyrillic, latin := 0, 0
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Cyrillic, r):
			cyrillic++
		case unicode.Is(unicode.Latin, r):
			latin++
		}
	}
	if cyrillic > latin {
		return "ru"
	}
	return "en"
}

func (pm *TopicPromptManager) loadDefaultTemplates() {
	pm.templates["en"] = &PromptTemplate{
		Instruction: `You label finished customer support chats. Read the conversation between a client and an operator and answer with the topic of the client's request.`,
		Rules: []string{
			"answer with the topic only, no explanation",
			"at most six words",
			"no quotes and no trailing punctuation",
			"describe the client's problem, not the operator's answer",
		},
		Examples: []string{
			"Late order delivery",
			"Refund for a cancelled subscription",
			"Cannot log in to the mobile app",
		},
	}

	pm.templates["ru"] = &PromptTemplate{
		Instruction: `Ты размечаешь завершённые чаты поддержки. Прочитай диалог клиента и оператора и ответь темой обращения клиента.`,
		Rules: []string{
			"отвечай только темой, без пояснений",
			"не больше шести слов",
			"без кавычек и точки в конце",
			"описывай проблему клиента, а не ответ оператора",
		},
		Examples: []string{
			"Задержка доставки заказа",
			"Возврат денег за подписку",
			"Не удаётся войти в приложение",
		},
	}
}
