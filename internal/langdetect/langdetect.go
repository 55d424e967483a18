// Package langdetect guesses the language of an input text and scores how
// far that guess can be trusted.
package langdetect

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/abadojack/whatlanggo"
	"github.com/rs/zerolog"
)

// Unknown is reported when no usable guess exists.
const Unknown = "unknown"

// Confidence level boundaries.
const (
	HighConfidence   = 0.8
	MediumConfidence = 0.6
)

const (
	cjkFirst = 0x4e00
	cjkLast  = 0x9fff

	maxLengthBonus  = 0.15
	lengthDivisor   = 100.0
	maxPatternBonus = 0.1
)

var commonEnglishWords = map[string]struct{}{
	"the": {}, "and": {}, "to": {}, "of": {}, "a": {},
	"in": {}, "is": {}, "it": {}, "you": {}, "that": {},
}

// Guess is a raw detector answer: an ISO 639-1 style code and the
// detector's own probability.
type Guess struct {
	Language    string
	Probability float64
}

// Detector is the underlying language identification backend.
type Detector interface {
	Detect(text string) (Guess, error)
}

// Result is the scored detection for one input.
type Result struct {
	Language   string  `json:"language"`
	Confidence float64 `json:"confidence"`
}

// IsChinese reports any Chinese variant (zh, zh-cn, zh-tw).
func (r Result) IsChinese() bool {
	return strings.HasPrefix(strings.ToLower(r.Language), "zh")
}

// IsEnglish reports an English guess.
func (r Result) IsEnglish() bool {
	return strings.EqualFold(r.Language, "en")
}

// Level buckets a confidence as high, medium or low.
func Level(confidence float64) string {
	switch {
	case confidence > HighConfidence:
		return "high"
	case confidence > MediumConfidence:
		return "medium"
	default:
		return "low"
	}
}

// ScorerConfig tunes confidence scoring.
type ScorerConfig struct {
	// MinLength is the rune count below which a guess is never trusted.
	MinLength int
	// ShortTextCap bounds the confidence of inputs shorter than MinLength.
	ShortTextCap float64
}

// DefaultScorerConfig returns the stock thresholds.
func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{MinLength: 10, ShortTextCap: 0.3}
}

// Scorer turns detector guesses into Results. Detect never fails.
type Scorer struct {
	detector Detector
	cfg      ScorerConfig
	logger   zerolog.Logger
}

// NewScorer wraps detector. A nil detector uses whatlanggo.
func NewScorer(detector Detector, cfg ScorerConfig, logger zerolog.Logger) *Scorer {
	if detector == nil {
		detector = WhatlangDetector{}
	}
	if cfg.MinLength <= 0 {
		cfg.MinLength = DefaultScorerConfig().MinLength
	}
	if cfg.ShortTextCap < 0 || cfg.ShortTextCap > 1 {
		cfg.ShortTextCap = DefaultScorerConfig().ShortTextCap
	}
	return &Scorer{detector: detector, cfg: cfg, logger: logger}
}

// Detect classifies text. Detector errors and panics yield {unknown, 0}.
func (s *Scorer) Detect(text string) (res Result) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{Language: Unknown}
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("language detector panicked")
			res = Result{Language: Unknown}
		}
	}()

	guess, err := s.detector.Detect(text)
	if err != nil || guess.Language == "" {
		if err == nil {
			err = errors.New("empty language code")
		}
		s.logger.Warn().Err(err).Msg("language detection failed")
		return Result{Language: Unknown}
	}

	lang := strings.ToLower(guess.Language)
	cjk := countCJK(text)
	// A Chinese guess for text without a single Han character is noise.
	if strings.HasPrefix(lang, "zh") && cjk == 0 {
		lang = Unknown
	}

	n := utf8.RuneCountInString(text)
	conf := clamp(guess.Probability)*(1-maxLengthBonus+math.Min(float64(n)/lengthDivisor, maxLengthBonus)) +
		patternBonus(lang, text, n, cjk)
	conf = clamp(conf)
	if n < s.cfg.MinLength && conf > s.cfg.ShortTextCap {
		conf = s.cfg.ShortTextCap
	}
	if lang == Unknown {
		conf = math.Min(conf, s.cfg.ShortTextCap)
	}

	res = Result{Language: lang, Confidence: conf}
	s.logger.Debug().
		Str("language", res.Language).
		Float64("confidence", res.Confidence).
		Str("level", Level(res.Confidence)).
		Msg("detected language")
	return res
}

func patternBonus(lang, text string, runes, cjk int) float64 {
	switch {
	case strings.HasPrefix(lang, "zh"):
		if cjk > 0 {
			return math.Min(float64(cjk)/float64(runes), maxPatternBonus)
		}
	case lang == "en":
		seen := make(map[string]struct{})
		for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool { return !unicode.IsLetter(r) }) {
			if _, ok := commonEnglishWords[w]; ok {
				seen[w] = struct{}{}
			}
		}
		return math.Min(float64(len(seen))/10, maxPatternBonus)
	}
	return 0
}

func countCJK(text string) int {
	n := 0
	for _, r := range text {
		if r >= cjkFirst && r <= cjkLast {
			n++
		}
	}
	return n
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// WhatlangDetector is the default Detector, backed by whatlanggo trigram models.
type WhatlangDetector struct{}

// Detect implements Detector.
func (WhatlangDetector) Detect(text string) (Guess, error) {
	info := whatlanggo.Detect(text)
	if info.Script == nil {
		return Guess{}, fmt.Errorf("no script recognized")
	}
	return Guess{Language: isoCode(info.Lang), Probability: info.Confidence}, nil
}

func isoCode(lang whatlanggo.Lang) string {
	switch lang {
	case whatlanggo.Eng:
		return "en"
	case whatlanggo.Cmn:
		return "zh"
	}
	if code := lang.Iso6391(); code != "" {
		return code
	}
	return lang.Iso6393()
}
