package emailgen

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/leadgen-pipeline/internal/config"
)

func testCompany() CompanyBrief {
	return CompanyBrief{
		Name:       "Стоматология Дент",
		Domain:     "klinika-dent.ru",
		Industry:   "стоматология",
		Highlights: []string{"Лечение зубов без боли", "Запись онлайн"},
	}
}

func testOffer() OfferBrief {
	return OfferBrief{
		Pains:            []string{"Высокая стоимость лида"},
		ValueProposition: "Автоматизируем обработку заявок",
		CallToAction:     "Готовы обсудить 15-минутный пилот?",
	}
}

func TestGenerateWithoutAPIKeyFallsBack(t *testing.T) {
	g := NewGenerator(config.OpenAIConfig{Model: "gpt-4.1-mini"}, nil)
	got := g.Generate(context.Background(), testCompany(), testOffer(), nil)

	assert.True(t, got.UsedFallback)
	assert.Nil(t, got.RequestPayload)
	assert.Equal(t, "Идея по оптимизации процессов вашей компании", got.Template.Subject)
	assert.Contains(t, got.Template.Body, "Добрый день!")
	assert.Contains(t, got.Template.Body, "стоматология")
	assert.Contains(t, got.Template.Body, "С уважением,")
}

func TestGenerateSuccess(t *testing.T) {
	var gotPayload map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))

		content, _ := json.Marshal(EmailTemplate{Subject: "Тема", Body: "Тело письма"})
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": string(content)}},
			},
		})
	}))
	defer srv.Close()

	g := NewGenerator(config.OpenAIConfig{APIKey: "sk-test", Model: "gpt-4.1-mini", Temperature: 0.4}, srv.Client()).
		WithEndpoint(srv.URL)
	got := g.Generate(context.Background(), testCompany(), testOffer(), nil)

	assert.False(t, got.UsedFallback)
	assert.Equal(t, "Тема", got.Template.Subject)
	assert.Equal(t, "Тело письма", got.Template.Body)

	assert.Equal(t, "gpt-4.1-mini", gotPayload["model"])
	rf := gotPayload["response_format"].(map[string]interface{})
	assert.Equal(t, "json_schema", rf["type"])
	messages := gotPayload["messages"].([]interface{})
	require.Len(t, messages, 2)
}

func TestGenerateHTTPErrorFallsBackKeepingPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	g := NewGenerator(config.OpenAIConfig{APIKey: "sk-test", Model: "gpt-4.1-mini"}, srv.Client()).
		WithEndpoint(srv.URL)
	got := g.Generate(context.Background(), testCompany(), testOffer(), nil)

	assert.True(t, got.UsedFallback)
	assert.NotNil(t, got.RequestPayload, "attempted payload is retained for audit")
	assert.NotEmpty(t, got.Template.Subject)
}

func TestGenerateMalformedContentFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "это не JSON"}},
			},
		})
	}))
	defer srv.Close()

	g := NewGenerator(config.OpenAIConfig{APIKey: "sk-test", Model: "gpt-4.1-mini"}, srv.Client()).
		WithEndpoint(srv.URL)
	got := g.Generate(context.Background(), testCompany(), testOffer(), nil)
	assert.True(t, got.UsedFallback)
}

func TestGenerateEmptyChoicesFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"choices": []interface{}{}})
	}))
	defer srv.Close()

	g := NewGenerator(config.OpenAIConfig{APIKey: "sk-test", Model: "gpt-4.1-mini"}, srv.Client()).
		WithEndpoint(srv.URL)
	got := g.Generate(context.Background(), testCompany(), testOffer(), nil)
	assert.True(t, got.UsedFallback)
}

func TestFallbackTemplateVariants(t *testing.T) {
	noOffer := fallbackTemplate(testCompany(), OfferBrief{})
	assert.Contains(t, noOffer.Body, "автоматизировать обработку заявок или подготовку отчётов")
	assert.Contains(t, noOffer.Body, "глаз зацепился за кейсы")

	withPain := fallbackTemplate(CompanyBrief{}, OfferBrief{Pains: []string{"Расширение воронки B2B"}})
	assert.Contains(t, withPain.Body, "вокруг расширение воронки b2b")
	assert.Contains(t, withPain.Body, "вашей сфере")
}
