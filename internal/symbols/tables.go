package symbols

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Spelling is one alternate-vendor candidate form: the bare ticker, optionally
// zero padded to PadDigits, followed by Suffix.
type Spelling struct {
	Suffix    string `yaml:"suffix"`
	PadDigits int    `yaml:"pad_digits"`
}

// Tables holds every static mapping the resolver needs.
type Tables struct {
	// Exchanges maps a user-entered exchange suffix to the primary vendor's
	// exchange tag. An empty tag means the bare ticker is used.
	Exchanges map[string]string `yaml:"exchanges"`
	// AlternateMarkets lists suffixes routed to the alternate vendor.
	AlternateMarkets []string `yaml:"alternate_markets"`
	// AlternateSpellings lists candidate forms per suffix, in priority order.
	// The bare ticker is always tried last.
	AlternateSpellings map[string][]Spelling `yaml:"alternate_spellings"`
	// MinorUnitMarkers are substrings of the original ticker whose primary
	// vendor prices are quoted in minor units.
	MinorUnitMarkers []string `yaml:"minor_unit_markers"`
	// DomesticSuffixes are suffixes the fundamentals vendor covers.
	DomesticSuffixes []string `yaml:"domestic_suffixes"`
}

func DefaultTables() Tables {
	return Tables{
		Exchanges: map[string]string{
			"US": "",
			"UN": "",
			"UW": "",
			"LN": "LSE",
			"SW": "SIX",
			"GY": "XETR",
			"GR": "XETR",
			"FP": "Euronext",
			"NA": "Euronext",
			"BB": "Euronext",
			"IM": "MTA",
			"JP": "JPX",
			"JT": "JPX",
			"HK": "HKEX",
			"DC": "OMXC",
			"SS": "OMXS",
			"CN": "TSX",
			"AU": "ASX",
			"SM": "BME",
		},
		AlternateMarkets: []string{"JP", "JT", "HK", "IM", "LN", "DC"},
		AlternateSpellings: map[string][]Spelling{
			"JP": {{Suffix: ".T"}, {Suffix: ".TYO"}},
			"JT": {{Suffix: ".T"}, {Suffix: ".TYO"}},
			"HK": {{Suffix: ".HK", PadDigits: 4}, {Suffix: ".HK"}},
			"IM": {{Suffix: ".MI"}},
			"LN": {{Suffix: ".L"}},
			"DC": {{Suffix: ".CO"}},
		},
		MinorUnitMarkers: []string{" SW"},
		DomesticSuffixes: []string{"US", "UN", "UW"},
	}
}

// LoadTables reads a YAML override file on top of DefaultTables. Maps are
// merged key by key, lists replace the defaults.
func LoadTables(path string) (Tables, error) {
	t := DefaultTables()
	if path == "" {
		return t, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("read symbol tables: %w", err)
	}
	if err := yaml.Unmarshal(b, &t); err != nil {
		return t, fmt.Errorf("parse symbol tables: %w", err)
	}
	return t, nil
}
