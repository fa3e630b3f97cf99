// Package collect accumulates and validates structured spoken input.
//
// When the assistant asks the caller for a specific piece of information
// (a phone number, an email address), the transcripts for that answer
// arrive in fragments. This package classifies what kind of answer is
// expected, buffers fragments with per-type debounce timing, and decides
// when the accumulated text forms a complete answer.
package collect

import (
	"regexp"
	"strings"
	"time"
)

// FieldType identifies the kind of structured input a prompt expects.
type FieldType string

const (
	FieldPhone    FieldType = "phone"
	FieldEmail    FieldType = "email"
	FieldName     FieldType = "name"
	FieldAddress  FieldType = "address"
	FieldDateTime FieldType = "date_time"
	FieldGeneral  FieldType = "general"
)

// digitWords maps spoken digit words to their character form.
var digitWords = map[string]byte{
	"zero": '0', "oh": '0', "o": '0',
	"one": '1', "two": '2', "three": '3', "four": '4',
	"five": '5', "six": '6', "seven": '7', "eight": '8', "nine": '9',
}

// repeatWords maps multiplier words to how many times the next digit
// token is emitted.
var repeatWords = map[string]int{
	"double": 2,
	"triple": 3,
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// ExtractDigits normalizes a mixed spoken/numeric sequence into a digit
// string. Literal digits pass through, digit words convert ("oh" is
// zero), and "double"/"triple" repeat the next digit token. Filler
// words are ignored. Order of emission follows order of encounter.
func ExtractDigits(text string) string {
	var out strings.Builder
	repeat := 1

	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = nonAlnum.ReplaceAllString(tok, "")
		if tok == "" {
			continue
		}

		if n, ok := repeatWords[tok]; ok {
			repeat = n
			continue
		}

		var digits string
		if d, ok := digitWords[tok]; ok {
			digits = string(d)
		} else {
			var b strings.Builder
			for i := 0; i < len(tok); i++ {
				if tok[i] >= '0' && tok[i] <= '9' {
					b.WriteByte(tok[i])
				}
			}
			digits = b.String()
		}
		if digits == "" {
			// Filler word. A pending double/triple survives filler so
			// "double, uh, five" still yields 55.
			continue
		}
		for i := 0; i < repeat; i++ {
			out.WriteString(digits)
		}
		repeat = 1
	}
	return out.String()
}

// classifyRule maps prompt phrases to the field type they imply. Rules
// are evaluated in order; the first phrase match wins.
type classifyRule struct {
	phrases []string
	field   FieldType
}

// classifyRules is ordered so that the most specific intents win. A
// yes/no confirmation that mentions "phone number" classifies as phone;
// that over-trigger is documented upstream behavior and is kept as is.
var classifyRules = []classifyRule{
	{phrases: []string{"phone number", "mobile number", "contact number", "callback number", "best number"}, field: FieldPhone},
	{phrases: []string{"email", "e-mail"}, field: FieldEmail},
	{phrases: []string{"your name", "full name", "name for the booking", "who am i speaking"}, field: FieldName},
	{phrases: []string{"address", "postcode", "post code", "zip code", "suburb"}, field: FieldAddress},
	{phrases: []string{"what time", "what day", "when would", "when suits", "date and time", "time suits", "time works"}, field: FieldDateTime},
}

// ClassifyExpectedInput inspects the assistant's most recent prompt and
// returns the field type the caller's answer is expected to carry.
// Prompts with no recognized field-intent phrase classify as general.
func ClassifyExpectedInput(prompt string) FieldType {
	lower := strings.ToLower(prompt)
	for _, rule := range classifyRules {
		for _, phrase := range rule.phrases {
			if strings.Contains(lower, phrase) {
				return rule.field
			}
		}
	}
	return FieldGeneral
}

var (
	// Literal or spoken TLD after normalizing " dot " to ".".
	emailTLD  = regexp.MustCompile(`\.(com|net|org|edu|gov|co|io|ai|au|nz|uk|us)(\.[a-z]{2,3})?\b`)
	spokenAt  = regexp.MustCompile(`\bat\b`)

	streetPattern   = regexp.MustCompile(`\b\d+[a-z]?\s+\w+(\s+\w+)?\s+(street|st|road|rd|avenue|ave|drive|dr|court|ct|place|pl|lane|ln|highway|hwy|parade|pde|crescent|cres|boulevard|blvd|terrace|tce|circuit|cct|close|cl|way)\b`)
	postcodePattern = regexp.MustCompile(`\b\d{4}\b`)

	clockPattern = regexp.MustCompile(`\b\d{1,2}([:.]\d{2})?\s*(am|pm|a\.m\.|p\.m\.|o'?clock)\b|\b\d{1,2}:\d{2}\b`)
)

var dayTerms = []string{
	"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
	"today", "tomorrow", "tonight",
	"morning", "afternoon", "evening", "midday", "noon",
	"next week", "this week",
}

// Validate reports whether the accumulated spoken text is a complete
// answer for the given field type. Rules run against the raw spoken
// text except phone, which validates the extracted digit count.
func Validate(field FieldType, text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))

	switch field {
	case FieldPhone:
		// Australian mobile (10) or fixed-line without area code (8).
		n := len(ExtractDigits(lower))
		return n == 8 || n == 10

	case FieldEmail:
		hasAt := strings.Contains(lower, "@") || spokenAt.MatchString(lower)
		if !hasAt {
			return false
		}
		normalized := strings.ReplaceAll(lower, " dot ", ".")
		return emailTLD.MatchString(normalized)

	case FieldName:
		return len(strings.Fields(lower)) >= 2

	case FieldAddress:
		return streetPattern.MatchString(lower) || postcodePattern.MatchString(lower)

	case FieldDateTime:
		if clockPattern.MatchString(lower) {
			return true
		}
		for _, term := range dayTerms {
			if strings.Contains(lower, term) {
				return true
			}
		}
		return strings.Contains(lower, "next ")

	default:
		// General input has no structural requirement.
		return true
	}
}

// BufferConfig holds the debounce timing for one field type.
type BufferConfig struct {
	// Debounce is how long to wait after the last fragment before the
	// buffer is considered settled.
	Debounce time.Duration
	// MaxWait caps total collection time from the first fragment.
	MaxWait time.Duration
	// IgnoreUtteranceEnd keeps the buffer open through the STT
	// end-of-utterance signal. Callers pause between digit groups, so
	// phone collection must not flush early.
	IgnoreUtteranceEnd bool
}

var bufferConfigs = map[FieldType]BufferConfig{
	FieldPhone:    {Debounce: 2500 * time.Millisecond, MaxWait: 20 * time.Second, IgnoreUtteranceEnd: true},
	FieldEmail:    {Debounce: 1500 * time.Millisecond, MaxWait: 12 * time.Second},
	FieldName:     {Debounce: 1000 * time.Millisecond, MaxWait: 8 * time.Second},
	FieldAddress:  {Debounce: 1500 * time.Millisecond, MaxWait: 12 * time.Second},
	FieldDateTime: {Debounce: 1200 * time.Millisecond, MaxWait: 10 * time.Second},
	FieldGeneral:  {Debounce: 1000 * time.Millisecond, MaxWait: 8 * time.Second},
}

// ConfigFor returns the buffer timing for a field type. Unknown types
// fall back to the general config.
func ConfigFor(field FieldType) BufferConfig {
	if cfg, ok := bufferConfigs[field]; ok {
		return cfg
	}
	return bufferConfigs[FieldGeneral]
}
