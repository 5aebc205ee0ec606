package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"uppercase scheme and www", "HTTP://WWW.test.ru/path//", "http://test.ru/path"},
		{"bare domain gets https and slash", "test.ru", "https://test.ru/"},
		{"default port stripped", "https://test.ru:443/a", "https://test.ru/a"},
		{"custom port kept", "http://test.ru:8080/a", "http://test.ru:8080/a"},
		{"fragment dropped query kept", "https://test.ru/a?x=1#frag", "https://test.ru/a?x=1"},
		{"repeated slashes collapsed", "https://test.ru//a///b/", "https://test.ru/a/b"},
		{"empty", "", ""},
		{"whitespace only", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeURL(tt.in))
		})
	}
}

func TestNormalizeURLIdempotent(t *testing.T) {
	inputs := []string{
		"HTTP://WWW.test.ru/path//",
		"test.ru",
		"https://пример.рф/каталог?q=1",
		"http://a.example:8080//x//y",
	}
	for _, in := range inputs {
		once := NormalizeURL(in)
		assert.Equal(t, once, NormalizeURL(once), "not idempotent for %q", in)
	}
}

func TestNormalizeDomain(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"тест.рф", "xn--e1aybc.xn--p1ai"},
		{"WWW.Test.RU", "test.ru"},
		{"https://www.test.ru/path", "test.ru"},
		{"test.ru:8080", "test.ru:8080"},
		{"test.ru:443", "test.ru"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeDomain(tt.in), "input %q", tt.in)
	}
}

func TestBuildCompanyDedupeKey(t *testing.T) {
	withDomain := BuildCompanyDedupeKey("ООО Ромашка", "www.test.ru")
	otherName := BuildCompanyDedupeKey("Совсем другое имя", "https://test.ru/about")
	assert.Equal(t, withDomain, otherName, "same domain must give same key regardless of name")

	byName := BuildCompanyDedupeKey("  ООО Ромашка  ", "")
	byNameAgain := BuildCompanyDedupeKey("ооо ромашка", "")
	assert.Equal(t, byName, byNameAgain)
	assert.NotEqual(t, withDomain, byName)
	assert.Len(t, withDomain, 40)
}

func TestCleanEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"mailto:Info@Test.RU?subject=hi", "info@test.ru"},
		{"Иван <ivan@test.ru>", "ivan@test.ru"},
		{"  <sales@test.ru>  ", "sales@test.ru"},
		{"in fo@test.ru", "info@test.ru"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CleanEmail(tt.in), "input %q", tt.in)
	}
}

func TestIsValidEmail(t *testing.T) {
	valid := []string{"info@test.ru", "mailto:user.name+tag@sub.example.com", "A@B.CO"}
	for _, v := range valid {
		assert.True(t, IsValidEmail(v), "expected valid: %q", v)
	}
	invalid := []string{"", "no-at-sign", "@test.ru", "user@", "user@-bad-.ru", "user@test"}
	for _, v := range invalid {
		assert.False(t, IsValidEmail(v), "expected invalid: %q", v)
	}
}

func TestCleanSnippet(t *testing.T) {
	assert.Equal(t, "a b c", CleanSnippet("  a\n\tb   c "))
	assert.Equal(t, "", CleanSnippet(""))
}
