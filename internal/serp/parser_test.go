package serp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleXML = `<?xml version="1.0" encoding="utf-8"?>
<yandexsearch version="1.0">
  <response>
    <results>
      <grouping>
        <group>
          <doc>
            <url>HTTP://WWW.klinika-dent.ru/uslugi//</url>
            <domain>klinika-dent.ru</domain>
            <title>Стоматология Дент</title>
            <passages>
              <passage>Лечение зубов  без боли.</passage>
              <passage>Запись онлайн.</passage>
            </passages>
            <properties>
              <property name="lang">ru</property>
            </properties>
          </doc>
        </group>
        <group>
          <doc>
            <url>https://www.avito.ru/moskva/uslugi/stomatologiya</url>
            <domain>avito.ru</domain>
            <title>Объявления</title>
          </doc>
        </group>
        <group>
          <doc>
            <lurl>smile-clinic.ru/contacts</lurl>
            <name>Smile Clinic</name>
          </doc>
        </group>
      </grouping>
    </results>
  </response>
</yandexsearch>`

func TestParseXML(t *testing.T) {
	docs, err := ParseXML([]byte(sampleXML))
	require.NoError(t, err)
	require.Len(t, docs, 2, "the avito.ru document must be excluded")

	first := docs[0]
	assert.Equal(t, "http://klinika-dent.ru/uslugi", first.URL)
	assert.Equal(t, "klinika-dent.ru", first.Domain)
	assert.Equal(t, "Стоматология Дент", first.Title)
	assert.Equal(t, "Лечение зубов без боли. Запись онлайн.", first.Snippet)
	assert.Equal(t, 1, first.Position)
	assert.Equal(t, "ru", first.Language)

	second := docs[1]
	assert.Equal(t, "https://smile-clinic.ru/contacts", second.URL)
	assert.Equal(t, "smile-clinic.ru", second.Domain)
	assert.Equal(t, "Smile Clinic", second.Title)
	assert.Equal(t, 3, second.Position, "position counts skipped documents too")
	assert.Empty(t, second.Language)
}

func TestParseXMLEmptyPayload(t *testing.T) {
	docs, err := ParseXML(nil)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestParseXMLMalformed(t *testing.T) {
	_, err := ParseXML([]byte("<yandexsearch><doc><url>x</url>"))
	assert.ErrorIs(t, err, ErrParse)
}

func TestParseXMLDocWithoutURL(t *testing.T) {
	xml := `<r><doc><title>нет ссылки</title></doc><doc><url>test.ru</url></doc></r>`
	docs, err := ParseXML([]byte(xml))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "https://test.ru/", docs[0].URL)
	assert.Equal(t, 2, docs[0].Position)
}
