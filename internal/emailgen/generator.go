// Package emailgen produces personalized outreach e-mails through an LLM,
// falling back to a deterministic template on any failure so outreach never
// stalls on the generation step.
package emailgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ignite/leadgen-pipeline/internal/config"
	"github.com/ignite/leadgen-pipeline/internal/pkg/logger"
)

const chatCompletionsURL = "https://api.openai.com/v1/chat/completions"

// CompanyBrief is the minimal company description fed to the generator.
type CompanyBrief struct {
	Name       string
	Domain     string
	Industry   string
	Highlights []string
}

// ContactBrief describes the recipient, when known.
type ContactBrief struct {
	Name   string
	Role   string
	Emails []string
	Phones []string
}

// OfferBrief carries the pitch: pains, value proposition and call to action.
type OfferBrief struct {
	Pains            []string
	ValueProposition string
	CallToAction     string
}

// EmailTemplate is a ready-to-send subject and plain-text body.
type EmailTemplate struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// GeneratedEmail is the generation outcome together with the request that
// produced it, kept for auditability.
type GeneratedEmail struct {
	Template       EmailTemplate
	RequestPayload map[string]interface{}
	UsedFallback   bool
}

// Doer executes HTTP requests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Generator calls the LLM chat completions API.
type Generator struct {
	cfg      config.OpenAIConfig
	language string
	http     Doer
	endpoint string
}

// NewGenerator builds a generator. A nil client gets a default http.Client
// with the configured timeout.
func NewGenerator(cfg config.OpenAIConfig, client Doer) *Generator {
	if client == nil {
		timeout := cfg.Timeout()
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Generator{cfg: cfg, language: "ru", http: client, endpoint: chatCompletionsURL}
}

// WithEndpoint overrides the API endpoint. Intended for tests.
func (g *Generator) WithEndpoint(url string) *Generator {
	g.endpoint = url
	return g
}

// Generate returns a personalized template. Without an API key, or on any
// HTTP or parsing failure, the deterministic fallback is returned with
// UsedFallback set and the attempted payload retained.
func (g *Generator) Generate(ctx context.Context, company CompanyBrief, offer OfferBrief, contact *ContactBrief) GeneratedEmail {
	if g.cfg.APIKey == "" {
		logger.Warn("emailgen: OPENAI_API_KEY not set, using fallback template")
		return GeneratedEmail{Template: fallbackTemplate(company, offer), UsedFallback: true}
	}

	payload := g.buildPayload(company, offer, contact)
	template, err := g.request(ctx, payload)
	if err != nil {
		logger.Error("emailgen: generation failed, using fallback", "error", err.Error())
		return GeneratedEmail{Template: fallbackTemplate(company, offer), RequestPayload: payload, UsedFallback: true}
	}
	return GeneratedEmail{Template: template, RequestPayload: payload, UsedFallback: false}
}

const systemPrompt = "Ты Марк Аборчи, специалист по AI-автоматизации. Твоя задача — писать " +
	"персонализированные, человеческие письма на русском языке для компаний, " +
	"которым можно помочь автоматизацией процессов с помощью нейросетей, Python, make.com или n8n. " +
	"Избегай рекламного тона и превосходных степеней. Делай акцент на пользе: экономия времени, " +
	"сокращение затрат, устранение рутины, повышение эффективности. Всегда используй JSON-ответ с полями subject и body. " +
	"Структура письма фиксирована: тема передаёт идею оптимизации процессов компании (например, 'Идея по оптимизации процессов вашей компании') и тело состоит из блоков:\n" +
	"1) Приветствие 'Добрый день!'.\n" +
	"2) Короткое представление Марка и его подхода (нейросети, Python).\n" +
	"3) Упоминание, чем занимается компания (используй предоставленный текст, не упоминай название). Добавь короткое наблюдение (1 предложение) о чём-то, что выделяет компанию: что тебя впечатлило, что показалось интересным.\n" +
	"4) Описание конкретного процесса, который можно упростить с помощью AI, и ожидаемого эффекта (сократить задержки, уменьшить затраты и т.п.).\n" +
	"5) Приглашение обсудить примеры.\n" +
	"6) Завершение: 'С уважением,' + имя и должность.\n" +
	"Структуру сохраняй, но формулировки темы и тела варьируй, чтобы письма не совпадали дословно."

func (g *Generator) buildPayload(company CompanyBrief, offer OfferBrief, _ *ContactBrief) map[string]interface{} {
	var homepageExcerpt interface{}
	if len(company.Highlights) > 0 {
		homepageExcerpt = strings.Join(company.Highlights, " ")
	}

	user, _ := json.Marshal(map[string]interface{}{
		"company": map[string]interface{}{
			"homepage_excerpt": homepageExcerpt,
		},
		"guidelines": map[string]interface{}{
			"language":        g.language,
			"avoid_marketing": true,
		},
	})

	return map[string]interface{}{
		"model":       g.cfg.Model,
		"temperature": g.cfg.Temperature,
		"response_format": map[string]interface{}{
			"type": "json_schema",
			"json_schema": map[string]interface{}{
				"name": "EmailTemplate",
				"schema": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"subject": map[string]string{"type": "string"},
						"body":    map[string]string{"type": "string"},
					},
					"required": []string{"subject", "body"},
				},
			},
		},
		"messages": []map[string]interface{}{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": string(user)},
		},
	}
}

func (g *Generator) request(ctx context.Context, payload map[string]interface{}) (EmailTemplate, error) {
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return EmailTemplate{}, err
	}
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.http.Do(req)
	if err != nil {
		return EmailTemplate{}, fmt.Errorf("llm request: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return EmailTemplate{}, fmt.Errorf("llm request: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var reply struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &reply); err != nil {
		return EmailTemplate{}, fmt.Errorf("llm response: %w", err)
	}
	if len(reply.Choices) == 0 || reply.Choices[0].Message.Content == "" {
		return EmailTemplate{}, fmt.Errorf("llm response has no content")
	}

	var template EmailTemplate
	if err := json.Unmarshal([]byte(reply.Choices[0].Message.Content), &template); err != nil {
		return EmailTemplate{}, fmt.Errorf("llm content: %w", err)
	}
	if template.Subject == "" || template.Body == "" {
		return EmailTemplate{}, fmt.Errorf("llm content missing subject or body")
	}
	return template, nil
}

// fallbackTemplate is the deterministic letter used when the LLM is not
// available. Wording follows the persona of the system prompt.
func fallbackTemplate(company CompanyBrief, offer OfferBrief) EmailTemplate {
	industry := company.Industry
	if industry == "" {
		industry = "вашей сфере"
	}

	var processHint string
	switch {
	case offer.ValueProposition != "":
		processHint = fmt.Sprintf("например, %s, чтобы команда меньше тратила времени на рутину",
			strings.ToLower(offer.ValueProposition))
	case len(offer.Pains) > 0:
		processHint = fmt.Sprintf("например, автоматизировать части процесса вокруг %s, чтобы команда меньше тратила времени на рутину",
			strings.ToLower(offer.Pains[0]))
	default:
		processHint = "например, автоматизировать обработку заявок или подготовку отчётов, чтобы команда меньше тратила времени на рутину"
	}

	observation := "Обратил внимание, как вы последовательно развиваете проекты — глаз зацепился за кейсы на главной."
	if len(offer.Pains) > 0 {
		observation = "Понравилось, что вы так системно подходите к своим задачам — это редко встретишь."
	}

	body := strings.Join([]string{
		"Добрый день!",
		"Меня зовут Марк, я занимаюсь автоматизацией бизнес-процессов с помощью нейросетей и Python.",
		fmt.Sprintf("Посмотрел ваш сайт — по описанию видно, что вы работаете в сфере %s.", industry),
		observation,
		fmt.Sprintf("Мне кажется, здесь можно упростить процессы, %s.", processHint),
		"",
		"Если интересно, могу показать на конкретных примерах, как это работает.",
		"",
		"С уважением,",
		"Марк Аборчи",
		"AI-Automation Specialist",
	}, "\n")

	return EmailTemplate{
		Subject: "Идея по оптимизации процессов вашей компании",
		Body:    body,
	}
}
