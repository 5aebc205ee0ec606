package querygen

// regionsLR maps lowercased city/country names to Yandex Search region
// codes (lr). Cities come first in resolution order; the country fallback
// and the configurable default cover the rest.
var regionsLR = map[string]int{
	"россия":                       225,
	"москва и московская область":  1,
	"москва":                       213,
	"санкт‑петербург":              2,
	"saint petersburg":             2,
	"архангельск":                  20,
	"nazran":                       1092,
	"назрань":                      1092,
	"астрахань":                    37,
	"nalchik":                      30,
	"нальчик":                      30,
	"barnaul":                      197,
	"барнаул":                      197,
	"нижний новгород":              47,
	"belgorod":                     4,
	"белгород":                     4,
	"новосибирск":                  65,
	"blagoveshchensk":              77,
	"благовещенск":                 77,
	"омск":                         66,
	"bryansk":                      191,
	"брянск":                       191,
	"орёл":                         10,
	"орел":                         10,
	"veliky novgorod":              24,
	"великий новгород":             24,
	"оренбург":                     48,
	"владивосток":                  75,
	"penza":                        49,
	"пенза":                        49,
	"владикавказ":                  33,
	"perm":                         50,
	"пермь":                        50,
	"vladimir":                     192,
	"владимир":                     192,
	"псков":                        25,
	"волгоград":                    38,
	"rostov-on-don":                39,
	"ростов-на-дону":               39,
	"вологда":                      21,
	"ryazan":                       11,
	"рязань":                       11,
	"voronezh":                     193,
	"воронеж":                      193,
	"samara":                       51,
	"самара":                       51,
	"grozny":                       1106,
	"грозный":                      1106,
	"yekaterinburg":                54,
	"екатеринбург":                 54,
	"saransk":                      42,
	"саранск":                      42,
	"ivanovo":                      5,
	"иваново":                      5,
	"smolensk":                     12,
	"смоленск":                     12,
	"irkutsk":                      63,
	"irkutsk oblast":               63,
	"irkutskaya oblast":            63,
	"иркутск":                      63,
	"сочи":                         239,
	"yoshkar-ola":                  41,
	"йошкар-ола":                   41,
	"stavropol":                    36,
	"ставрополь":                   36,
	"kazan":                        43,
	"казань":                       43,
	"surgut":                       973,
	"сургут":                       973,
	"kaliningrad":                  22,
	"калининград":                  22,
	"tambov":                       13,
	"тамбов":                       13,
	"kemerovo":                     64,
	"кемерово":                     64,
	"tver":                         14,
	"тверь":                        14,
	"kostroma":                     7,
	"кострома":                     7,
	"tomsk":                        67,
	"томск":                        67,
	"krasnodar":                    35,
	"краснодар":                    35,
	"tula":                         15,
	"тула":                         15,
	"krasnoyarsk":                  62,
	"красноярск":                   62,
	"ulyanovsk":                    195,
	"ульяновск":                    195,
	"kurgan":                       53,
	"курган":                       53,
	"ufa":                          172,
	"уфа":                          172,
	"kursk":                        8,
	"курск":                        8,
	"khabarovsk":                   76,
	"хабаровск":                    76,
	"lipetsk":                      9,
	"липецк":                       9,
	"cheboksary":                   45,
	"чебоксары":                    45,
	"makhachkala":                  28,
	"махачкала":                    28,
	"chelyabinsk":                  56,
	"челябинск":                    56,
	"cherkessk":                    1104,
	"черкесск":                     1104,
	"yaroslavl":                    16,
	"ярославль":                    16,
	"murmansk":                     23,
	"мурманск":                     23,
}
