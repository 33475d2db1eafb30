package moderation

import (
	"context"
	"regexp"
)

// BannedWords 是本地分类器使用的词表，按整词、忽略大小写匹配。
var BannedWords = []string{
	"fuck", "fucking", "fucker", "shit", "bullshit",
	"asshole", "bastard", "bitch", "cunt",
	"retard", "retarded",
	"porn", "nudes",
	"scam", "scammer", "phishing", "malware",
}

var threatPhrases = []string{
	`kill\s+your\s*self`, `kys`, `i\s+will\s+(hurt|kill|find)\s+you`,
}

// KeywordClassifier 是不依赖外部服务的本地分类器，未配置模型接口时使用。
type KeywordClassifier struct {
	banned  []*regexp.Regexp
	threats []*regexp.Regexp
	contact *regexp.Regexp
}

func NewKeywordClassifier(words []string) *KeywordClassifier {
	if words == nil {
		words = BannedWords
	}
	k := &KeywordClassifier{}
	for _, w := range words {
		if re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(w) + `\b`); err == nil {
			k.banned = append(k.banned, re)
		}
	}
	for _, p := range threatPhrases {
		k.threats = append(k.threats, regexp.MustCompile(`(?i)\b`+p+`\b`))
	}
	k.contact = regexp.MustCompile(`(?i)\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Z]{2,}\b|\d{3}[-.\s]?\d{3}[-.\s]?\d{4}`)
	return k
}

func (k *KeywordClassifier) Classify(ctx context.Context, in Input) (Verdict, error) {
	if err := ctx.Err(); err != nil {
		return Verdict{}, err
	}
	for _, re := range k.threats {
		if re.MatchString(in.Text) {
			return Verdict{IsToxic: true, Reason: "threatening or self-harm encouraging language"}, nil
		}
	}
	for _, re := range k.banned {
		if re.MatchString(in.Text) {
			return Verdict{IsToxic: true, Reason: "contains abusive or inappropriate language"}, nil
		}
	}
	if k.contact.MatchString(in.Text) {
		return Verdict{IsToxic: true, Reason: "shares personal contact information"}, nil
	}
	return Verdict{IsToxic: false, Reason: "no policy violation detected"}, nil
}
