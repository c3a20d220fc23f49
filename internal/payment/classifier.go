package payment

import (
	"regexp"
	"strings"
)

const (
	weightAmount  = 40
	weightSuccess = 40
	weightDate    = 20

	// ValidConfidence is the lowest score that is worth a moderator's time.
	ValidConfidence = 60
	// AutoApproveConfidence is the default score at which access is granted without review.
	AutoApproveConfidence = 80
)

var (
	amountTokens  = []string{"500", "пятьсот", "five hundred"}
	successTokens = []string{"успешно", "выполнено", "завершено", "success", "completed", "paid"}
	datePatterns  = []*regexp.Regexp{
		regexp.MustCompile(`\d{1,2}[./]\d{1,2}[./]\d{2,4}`),
		regexp.MustCompile(`\d{1,2}:\d{2}`),
	}
)

// Verdict is the outcome of scoring the text read off a payment screenshot.
type Verdict struct {
	FoundAmount  bool `json:"found_amount"`
	FoundSuccess bool `json:"found_success"`
	FoundDate    bool `json:"found_date"`
	Confidence   int  `json:"confidence"`
	IsValid      bool `json:"is_valid"`
}

// Classify scores screenshot text. Empty text scores zero.
func Classify(text string) Verdict {
	var v Verdict
	if text == "" {
		return v
	}

	lower := strings.ToLower(text)
	v.FoundAmount = containsAny(lower, amountTokens)
	v.FoundSuccess = containsAny(lower, successTokens)
	for _, re := range datePatterns {
		if re.MatchString(text) {
			v.FoundDate = true
			break
		}
	}

	if v.FoundAmount {
		v.Confidence += weightAmount
	}
	if v.FoundSuccess {
		v.Confidence += weightSuccess
	}
	if v.FoundDate {
		v.Confidence += weightDate
	}
	v.IsValid = v.Confidence >= ValidConfidence
	return v
}

// AutoApprove reports whether the verdict clears the given threshold.
func (v Verdict) AutoApprove(threshold int) bool {
	return v.IsValid && v.Confidence >= threshold
}

func containsAny(s string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(s, token) {
			return true
		}
	}
	return false
}
